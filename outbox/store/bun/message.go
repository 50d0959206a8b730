package bunstore

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/julianshaw2000/property-sub001/outbox"
	"github.com/julianshaw2000/property-sub001/outbox/id"
)

// Insert persists a new outbox message. For transactional publishing use
// TxInserter so the row joins the business transaction.
func (s *Store) Insert(ctx context.Context, msg *outbox.Message) error {
	return insertMessage(ctx, s.db, msg)
}

// TxInserter returns an outbox.Inserter bound to the given Bun
// transaction. Rows written through it commit or roll back with the
// caller's other writes.
func (s *Store) TxInserter(tx bun.Tx) outbox.Inserter {
	return inserterFunc(func(ctx context.Context, msg *outbox.Message) error {
		return insertMessage(ctx, tx, msg)
	})
}

type inserterFunc func(ctx context.Context, msg *outbox.Message) error

func (f inserterFunc) Insert(ctx context.Context, msg *outbox.Message) error {
	return f(ctx, msg)
}

func insertMessage(ctx context.Context, db bun.IDB, msg *outbox.Message) error {
	m := toMessageModel(msg)
	if _, err := db.NewInsert().Model(m).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return outbox.ErrDuplicateMessage
		}
		return fmt.Errorf("outbox/bun: insert message: %w", err)
	}
	return nil
}

// Get retrieves a message by ID.
func (s *Store) Get(ctx context.Context, msgID id.MessageID) (*outbox.Message, error) {
	m := new(messageModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", msgID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, outbox.ErrMessageNotFound
		}
		return nil, fmt.Errorf("outbox/bun: get message: %w", err)
	}
	return fromMessageModel(m)
}

// ListByStatus returns up to limit messages in the given status, oldest
// first. Zero limit means no limit.
func (s *Store) ListByStatus(ctx context.Context, status outbox.Status, limit int) ([]*outbox.Message, error) {
	var models []messageModel
	q := s.db.NewSelect().Model(&models).
		Where("status = ?", string(status)).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("outbox/bun: list messages: %w", err)
	}

	out := make([]*outbox.Message, 0, len(models))
	for i := range models {
		msg, convErr := fromMessageModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("outbox/bun: list convert: %w", convErr)
		}
		out = append(out, msg)
	}
	return out, nil
}

// Replay resets a terminally failed message to pending with a fresh
// retry budget.
func (s *Store) Replay(ctx context.Context, msgID id.MessageID) error {
	res, err := s.db.NewUpdate().Model((*messageModel)(nil)).
		Set("status = 'pending'").
		Set("retry_count = 0").
		Set("last_error = NULL").
		Set("available_at = NOW()").
		Set("updated_at = NOW()").
		Where("id = ? AND status = 'failed'", msgID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("outbox/bun: replay message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.stateConflict(ctx, msgID, outbox.StatusFailed)
	}
	return nil
}

// Complete records a downstream worker's success report.
func (s *Store) Complete(ctx context.Context, msgID id.MessageID) error {
	res, err := s.db.NewUpdate().Model((*messageModel)(nil)).
		Set("status = 'completed'").
		Set("updated_at = NOW()").
		Where("id = ? AND status = 'dispatched'", msgID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("outbox/bun: complete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.stateConflict(ctx, msgID, outbox.StatusDispatched)
	}
	return nil
}

func (s *Store) stateConflict(ctx context.Context, msgID id.MessageID, want outbox.Status) error {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM outbox_messages WHERE id = ?`, msgID.String(),
	).Scan(&status)
	if isNoRows(err) {
		return outbox.ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("outbox/bun: check message status: %w", err)
	}
	return fmt.Errorf("%w: requires status %q, got %q", outbox.ErrInvalidState, want, status)
}

// PendingCount returns the number of pending messages.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	n, err := s.db.NewSelect().Model((*messageModel)(nil)).
		Where("status = 'pending'").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox/bun: pending count: %w", err)
	}
	return int64(n), nil
}
