package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/julianshaw2000/property-sub001/outbox"
	"github.com/julianshaw2000/property-sub001/outbox/id"
)

// Claim opens a transaction and locks up to BatchSize due rows with
// SELECT FOR UPDATE SKIP LOCKED via raw SQL. Rows stay 'pending' while
// locked; a dying connection releases them with no recovery sweep.
func (s *Store) Claim(ctx context.Context, opts outbox.ClaimOptions) (outbox.Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("outbox/bun: begin claim: %w", err)
	}

	var models []messageModel
	err = tx.NewRaw(`
		SELECT * FROM outbox_messages
		WHERE status = 'pending' AND available_at <= ?0
		ORDER BY available_at ASC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT ?1`,
		opts.Now, opts.BatchSize,
	).Scan(ctx, &models)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("outbox/bun: claim query: %w", err)
	}
	if len(models) == 0 {
		_ = tx.Rollback()
		return nil, outbox.ErrNoMessages
	}

	msgs := make([]*outbox.Message, 0, len(models))
	for i := range models {
		msg, convErr := fromMessageModel(&models[i])
		if convErr != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("outbox/bun: claim convert: %w", convErr)
		}
		msgs = append(msgs, msg)
	}

	return &batch{tx: tx, msgs: msgs}, nil
}

type batch struct {
	tx   bun.Tx
	msgs []*outbox.Message
}

var _ outbox.Batch = (*batch)(nil)

func (b *batch) Messages() []*outbox.Message { return b.msgs }

func (b *batch) Dispatch(ctx context.Context, ids []id.MessageID) error {
	_, err := b.tx.NewRaw(`
		UPDATE outbox_messages
		SET status = 'dispatched', updated_at = NOW()
		WHERE id = ANY(?0)`,
		pgdialect.Array(idStrings(ids)),
	).Exec(ctx)
	if err != nil {
		return fmt.Errorf("outbox/bun: mark dispatched: %w", err)
	}
	return nil
}

func (b *batch) Retry(ctx context.Context, retries []outbox.Retry) error {
	for _, r := range retries {
		_, err := b.tx.NewRaw(`
			UPDATE outbox_messages
			SET retry_count = retry_count + 1, last_error = ?1,
			    available_at = ?2, updated_at = NOW()
			WHERE id = ?0`,
			r.ID.String(), r.Err.Error(), r.At,
		).Exec(ctx)
		if err != nil {
			return fmt.Errorf("outbox/bun: mark retry %s: %w", r.ID, err)
		}
	}
	return nil
}

func (b *batch) Fail(ctx context.Context, failures []outbox.Failure) error {
	for _, f := range failures {
		_, err := b.tx.NewRaw(`
			UPDATE outbox_messages
			SET status = 'failed', retry_count = retry_count + 1,
			    last_error = ?1, updated_at = NOW()
			WHERE id = ?0`,
			f.ID.String(), f.Err.Error(),
		).Exec(ctx)
		if err != nil {
			return fmt.Errorf("outbox/bun: mark failed %s: %w", f.ID, err)
		}
	}
	return nil
}

func (b *batch) Defer(ctx context.Context, ids []id.MessageID, until time.Time) error {
	_, err := b.tx.NewRaw(`
		UPDATE outbox_messages
		SET available_at = ?1, updated_at = NOW()
		WHERE id = ANY(?0)`,
		pgdialect.Array(idStrings(ids)), until,
	).Exec(ctx)
	if err != nil {
		return fmt.Errorf("outbox/bun: defer messages: %w", err)
	}
	return nil
}

func (b *batch) Commit(_ context.Context) error {
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("outbox/bun: commit batch: %w", err)
	}
	return nil
}

func (b *batch) Rollback(_ context.Context) error {
	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("outbox/bun: rollback batch: %w", err)
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
