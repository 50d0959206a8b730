package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/julianshaw2000/property-sub001/outbox"
	"github.com/julianshaw2000/property-sub001/outbox/store/memory"
)

func TestPublishStoresPendingMessage(t *testing.T) {
	store := memory.New()
	w := outbox.NewWriter(store)
	ctx := context.Background()

	msg, err := w.Publish(ctx, "org_123", "email.ticket.created", []byte(`{"ticketId":"t1"}`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if msg.ID.IsNil() {
		t.Error("published message has no ID")
	}

	got, err := store.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != outbox.StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if got.OrgID != "org_123" || got.Type != "email.ticket.created" {
		t.Errorf("stored row = %+v", got)
	}
	if got.RetryCount != 0 {
		t.Errorf("retry_count = %d, want 0", got.RetryCount)
	}
	if got.AvailableAt.After(time.Now().UTC()) {
		t.Errorf("available_at = %v, want claimable immediately", got.AvailableAt)
	}
}

func TestPublishAtSchedulesDelivery(t *testing.T) {
	store := memory.New()
	w := outbox.NewWriter(store)
	ctx := context.Background()

	at := time.Now().UTC().Add(2 * time.Hour)
	msg, err := w.PublishAt(ctx, "org_123", "sms.visit.reminder", []byte(`{}`), at)
	if err != nil {
		t.Fatalf("PublishAt: %v", err)
	}

	got, err := store.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.AvailableAt.Equal(at) {
		t.Errorf("available_at = %v, want %v", got.AvailableAt, at)
	}
}

func TestPublishValidation(t *testing.T) {
	w := outbox.NewWriter(memory.New())
	ctx := context.Background()

	tests := []struct {
		name    string
		orgID   string
		typ     string
		payload []byte
		want    error
	}{
		{"missing org", "", "email.x", []byte(`{}`), outbox.ErrOrgIDRequired},
		{"missing type", "org_123", "", []byte(`{}`), outbox.ErrTypeRequired},
		{"no dot", "org_123", "email", []byte(`{}`), outbox.ErrInvalidType},
		{"leading dot", "org_123", ".x", []byte(`{}`), outbox.ErrInvalidType},
		{"trailing dot", "org_123", "email.", []byte(`{}`), outbox.ErrInvalidType},
		{"empty segment", "org_123", "email..x", []byte(`{}`), outbox.ErrInvalidType},
		{"missing payload", "org_123", "email.x", nil, outbox.ErrPayloadRequired},
		{"invalid json", "org_123", "email.x", []byte(`{"broken`), outbox.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.Publish(ctx, tt.orgID, tt.typ, tt.payload)
			if !errors.Is(err, tt.want) {
				t.Errorf("Publish err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPublishCategoryHelpers(t *testing.T) {
	store := memory.New()
	w := outbox.NewWriter(store)
	ctx := context.Background()

	msg, err := w.PublishEmail(ctx, "org_123", "ticket.created", []byte(`{}`))
	if err != nil {
		t.Fatalf("PublishEmail: %v", err)
	}
	if msg.Type != "email.ticket.created" {
		t.Errorf("PublishEmail type = %q", msg.Type)
	}

	msg, err = w.PublishSMS(ctx, "org_123", "visit.reminder", []byte(`{}`))
	if err != nil {
		t.Fatalf("PublishSMS: %v", err)
	}
	if msg.Type != "sms.visit.reminder" {
		t.Errorf("PublishSMS type = %q", msg.Type)
	}

	msg, err = w.PublishAI(ctx, "org_123", "ticket.triage", []byte(`{}`))
	if err != nil {
		t.Fatalf("PublishAI: %v", err)
	}
	if msg.Type != "ai.ticket.triage" {
		t.Errorf("PublishAI type = %q", msg.Type)
	}
}

func TestPublishAcceptsNonObjectPayload(t *testing.T) {
	w := outbox.NewWriter(memory.New())
	ctx := context.Background()

	// Any valid JSON value is storable; the dispatcher nests non-objects
	// under "data" at enqueue time.
	if _, err := w.Publish(ctx, "org_123", "generic.export.run", []byte(`[1,2,3]`)); err != nil {
		t.Fatalf("Publish array payload: %v", err)
	}
}
