package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/julianshaw2000/property-sub001/outbox"
	"github.com/julianshaw2000/property-sub001/outbox/id"
)

// Claim opens a transaction and locks up to BatchSize due rows with
// SELECT FOR UPDATE SKIP LOCKED. The rows stay 'pending' while locked:
// if the dispatcher dies, the dying connection releases the locks and
// the rows become claimable again with no recovery sweep.
func (s *Store) Claim(ctx context.Context, opts outbox.ClaimOptions) (outbox.Batch, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("outbox/postgres: begin claim: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT`+messageColumns+`
		FROM outbox_messages
		WHERE status = 'pending' AND available_at <= $1
		ORDER BY available_at ASC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $2`,
		opts.Now, opts.BatchSize,
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("outbox/postgres: claim query: %w", err)
	}

	msgs, err := collectMessages(rows)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	if len(msgs) == 0 {
		_ = tx.Rollback(ctx)
		return nil, outbox.ErrNoMessages
	}

	return &batch{tx: tx, msgs: msgs}, nil
}

// batch holds the claim transaction. Outcome updates execute on the
// transaction immediately; they become visible at Commit.
type batch struct {
	tx   pgx.Tx
	msgs []*outbox.Message
}

var _ outbox.Batch = (*batch)(nil)

func (b *batch) Messages() []*outbox.Message { return b.msgs }

func (b *batch) Dispatch(ctx context.Context, ids []id.MessageID) error {
	_, err := b.tx.Exec(ctx, `
		UPDATE outbox_messages
		SET status = 'dispatched', updated_at = NOW()
		WHERE id = ANY($1)`,
		idStrings(ids),
	)
	if err != nil {
		return fmt.Errorf("outbox/postgres: mark dispatched: %w", err)
	}
	return nil
}

func (b *batch) Retry(ctx context.Context, retries []outbox.Retry) error {
	for _, r := range retries {
		_, err := b.tx.Exec(ctx, `
			UPDATE outbox_messages
			SET retry_count = retry_count + 1, last_error = $2,
			    available_at = $3, updated_at = NOW()
			WHERE id = $1`,
			r.ID.String(), r.Err.Error(), r.At,
		)
		if err != nil {
			return fmt.Errorf("outbox/postgres: mark retry %s: %w", r.ID, err)
		}
	}
	return nil
}

func (b *batch) Fail(ctx context.Context, failures []outbox.Failure) error {
	for _, f := range failures {
		_, err := b.tx.Exec(ctx, `
			UPDATE outbox_messages
			SET status = 'failed', retry_count = retry_count + 1,
			    last_error = $2, updated_at = NOW()
			WHERE id = $1`,
			f.ID.String(), f.Err.Error(),
		)
		if err != nil {
			return fmt.Errorf("outbox/postgres: mark failed %s: %w", f.ID, err)
		}
	}
	return nil
}

func (b *batch) Defer(ctx context.Context, ids []id.MessageID, until time.Time) error {
	_, err := b.tx.Exec(ctx, `
		UPDATE outbox_messages
		SET available_at = $2, updated_at = NOW()
		WHERE id = ANY($1)`,
		idStrings(ids), until,
	)
	if err != nil {
		return fmt.Errorf("outbox/postgres: defer messages: %w", err)
	}
	return nil
}

func (b *batch) Commit(ctx context.Context) error {
	if err := b.tx.Commit(ctx); err != nil {
		return fmt.Errorf("outbox/postgres: commit batch: %w", err)
	}
	return nil
}

func (b *batch) Rollback(ctx context.Context) error {
	if err := b.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("outbox/postgres: rollback batch: %w", err)
	}
	return nil
}

func idStrings(ids []id.MessageID) []string {
	out := make([]string, len(ids))
	for i, msgID := range ids {
		out[i] = msgID.String()
	}
	return out
}
