package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/julianshaw2000/property-sub001/outbox"
	"github.com/julianshaw2000/property-sub001/outbox/id"
)

const messageColumns = `
	id, org_id, type, payload, status, retry_count, last_error,
	available_at, created_at, updated_at`

// execer abstracts pool vs. transaction execution so Insert can run on
// either.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Insert persists a new outbox message on the pool. For transactional
// publishing use TxInserter so the row joins the business transaction.
func (s *Store) Insert(ctx context.Context, msg *outbox.Message) error {
	return insertMessage(ctx, s.pool, msg)
}

// TxInserter returns an outbox.Inserter bound to the given transaction.
// Rows written through it commit or roll back with the caller's other
// writes, which is the whole point of the outbox.
func (s *Store) TxInserter(tx pgx.Tx) outbox.Inserter {
	return inserterFunc(func(ctx context.Context, msg *outbox.Message) error {
		return insertMessage(ctx, tx, msg)
	})
}

type inserterFunc func(ctx context.Context, msg *outbox.Message) error

func (f inserterFunc) Insert(ctx context.Context, msg *outbox.Message) error {
	return f(ctx, msg)
}

func insertMessage(ctx context.Context, db execer, msg *outbox.Message) error {
	_, err := db.Exec(ctx, `
		INSERT INTO outbox_messages (
			id, org_id, type, payload, status, retry_count, last_error,
			available_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)`,
		msg.ID.String(), msg.OrgID, msg.Type, []byte(msg.Payload),
		string(msg.Status), msg.RetryCount, msg.LastError,
		msg.AvailableAt, msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return outbox.ErrDuplicateMessage
		}
		return fmt.Errorf("outbox/postgres: insert message: %w", err)
	}
	return nil
}

// Get retrieves a message by ID.
func (s *Store) Get(ctx context.Context, msgID id.MessageID) (*outbox.Message, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+messageColumns+` FROM outbox_messages WHERE id = $1`,
		msgID.String(),
	)

	msg, err := scanMessage(row)
	if err != nil {
		if isNoRows(err) {
			return nil, outbox.ErrMessageNotFound
		}
		return nil, fmt.Errorf("outbox/postgres: get message: %w", err)
	}
	return msg, nil
}

// ListByStatus returns up to limit messages in the given status, oldest
// first. Zero limit means no limit.
func (s *Store) ListByStatus(ctx context.Context, status outbox.Status, limit int) ([]*outbox.Message, error) {
	query := `SELECT` + messageColumns + `
		FROM outbox_messages WHERE status = $1 ORDER BY created_at ASC`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("outbox/postgres: list messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// Replay resets a terminally failed message to pending with a fresh
// retry budget.
func (s *Store) Replay(ctx context.Context, msgID id.MessageID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_messages
		SET status = 'pending', retry_count = 0, last_error = NULL,
		    available_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'failed'`,
		msgID.String(),
	)
	if err != nil {
		return fmt.Errorf("outbox/postgres: replay message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.stateConflict(ctx, msgID, outbox.StatusFailed)
	}
	return nil
}

// Complete records a downstream worker's success report.
func (s *Store) Complete(ctx context.Context, msgID id.MessageID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_messages
		SET status = 'completed', updated_at = NOW()
		WHERE id = $1 AND status = 'dispatched'`,
		msgID.String(),
	)
	if err != nil {
		return fmt.Errorf("outbox/postgres: complete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.stateConflict(ctx, msgID, outbox.StatusDispatched)
	}
	return nil
}

// stateConflict distinguishes a missing row from a wrong-status row
// after a guarded UPDATE matched nothing.
func (s *Store) stateConflict(ctx context.Context, msgID id.MessageID, want outbox.Status) error {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM outbox_messages WHERE id = $1`, msgID.String(),
	).Scan(&status)
	if isNoRows(err) {
		return outbox.ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("outbox/postgres: check message status: %w", err)
	}
	return fmt.Errorf("%w: requires status %q, got %q", outbox.ErrInvalidState, want, status)
}

// PendingCount returns the number of pending messages.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_messages WHERE status = 'pending'`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("outbox/postgres: pending count: %w", err)
	}
	return n, nil
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*outbox.Message, error) {
	var (
		msg       outbox.Message
		rawID     string
		status    string
		lastError *string
	)
	err := row.Scan(
		&rawID, &msg.OrgID, &msg.Type, &msg.Payload, &status,
		&msg.RetryCount, &lastError,
		&msg.AvailableAt, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	msgID, err := id.ParseMessageID(rawID)
	if err != nil {
		return nil, err
	}
	msg.ID = msgID
	msg.Status = outbox.Status(status)
	if lastError != nil {
		msg.LastError = *lastError
	}

	return &msg, nil
}

func collectMessages(rows pgx.Rows) ([]*outbox.Message, error) {
	var out []*outbox.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("outbox/postgres: scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox/postgres: iterate messages: %w", err)
	}
	return out, nil
}
