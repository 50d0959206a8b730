package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/julianshaw2000/property-sub001/outbox/id"
)

// Writer records outbox messages. Bind it to a transaction-scoped
// Inserter (e.g. postgres.TxInserter) so the row commits or rolls back
// together with the business writes that produced it.
type Writer struct {
	inserter Inserter
	clock    Clock
}

// NewWriter creates a Writer over the given inserter.
func NewWriter(inserter Inserter) *Writer {
	return &Writer{inserter: inserter, clock: SystemClock{}}
}

// NewWriterWithClock creates a Writer with an explicit time source.
func NewWriterWithClock(inserter Inserter, clock Clock) *Writer {
	return &Writer{inserter: inserter, clock: clock}
}

// Publish records a message for immediate dispatch and returns the
// stored row.
func (w *Writer) Publish(ctx context.Context, orgID, typ string, payload json.RawMessage) (*Message, error) {
	return w.publish(ctx, orgID, typ, payload, time.Time{})
}

// PublishAt records a message that becomes claimable at the given time.
func (w *Writer) PublishAt(ctx context.Context, orgID, typ string, payload json.RawMessage, at time.Time) (*Message, error) {
	return w.publish(ctx, orgID, typ, payload, at)
}

// PublishEmail records an email message; jobName becomes the part after
// the "email." prefix, e.g. "ticket.created".
func (w *Writer) PublishEmail(ctx context.Context, orgID, jobName string, payload json.RawMessage) (*Message, error) {
	return w.Publish(ctx, orgID, string(CategoryEmail)+"."+jobName, payload)
}

// PublishSMS records an SMS message.
func (w *Writer) PublishSMS(ctx context.Context, orgID, jobName string, payload json.RawMessage) (*Message, error) {
	return w.Publish(ctx, orgID, string(CategorySMS)+"."+jobName, payload)
}

// PublishAI records an AI-pipeline message.
func (w *Writer) PublishAI(ctx context.Context, orgID, jobName string, payload json.RawMessage) (*Message, error) {
	return w.Publish(ctx, orgID, string(CategoryAI)+"."+jobName, payload)
}

func (w *Writer) publish(ctx context.Context, orgID, typ string, payload json.RawMessage, at time.Time) (*Message, error) {
	if err := validatePublish(orgID, typ, payload); err != nil {
		return nil, err
	}

	now := w.clock.Now()
	availableAt := now
	if !at.IsZero() {
		availableAt = at.UTC()
	}

	msg := &Message{
		ID:          id.NewMessageID(),
		OrgID:       orgID,
		Type:        typ,
		Payload:     payload,
		Status:      StatusPending,
		AvailableAt: availableAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := w.inserter.Insert(ctx, msg); err != nil {
		return nil, fmt.Errorf("outbox: publish %s: %w", typ, err)
	}

	return msg, nil
}

func validatePublish(orgID, typ string, payload json.RawMessage) error {
	if orgID == "" {
		return ErrOrgIDRequired
	}
	if typ == "" {
		return ErrTypeRequired
	}
	// A type needs at least a category segment and a job name; anything
	// without a dot could never be routed.
	if !strings.Contains(typ, ".") ||
		strings.HasPrefix(typ, ".") || strings.HasSuffix(typ, ".") || strings.Contains(typ, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidType, typ)
	}
	if len(payload) == 0 {
		return ErrPayloadRequired
	}
	if !json.Valid(payload) {
		return ErrInvalidPayload
	}
	return nil
}
