package outbox

import (
	"context"
	"time"

	"github.com/julianshaw2000/property-sub001/outbox/id"
)

// ClaimOptions controls how a dispatcher claims pending messages.
type ClaimOptions struct {
	// BatchSize is the maximum number of rows to claim.
	BatchSize int
	// Now is the claim-eligibility cutoff: only rows with
	// available_at <= Now are selected.
	Now time.Time
}

// Retry records a transient dispatch failure for one message. The store
// increments the retry count, records the error, and defers the row.
type Retry struct {
	ID id.MessageID
	// At is the new available_at: the earliest next claim time.
	At  time.Time
	Err error
}

// Failure records a terminal dispatch failure for one message.
type Failure struct {
	ID  id.MessageID
	Err error
}

// Inserter persists new outbox messages. Storage backends expose
// transaction-bound inserters so the row commits or rolls back together
// with the caller's business writes.
type Inserter interface {
	// Insert persists a new message. Returns ErrDuplicateMessage if the
	// ID already exists.
	Insert(ctx context.Context, msg *Message) error
}

// Batch is a claimed set of pending messages, held under row locks for the
// lifetime of the batch. Outcome updates accumulate on the underlying
// transaction and take effect at Commit; Rollback releases the locks and
// leaves every row pending. A dispatcher crash has the same effect as
// Rollback: the dying connection releases the locks.
type Batch interface {
	// Messages returns the claimed messages in claim order.
	Messages() []*Message
	// Dispatch marks the given messages as accepted downstream.
	Dispatch(ctx context.Context, ids []id.MessageID) error
	// Retry applies transient-failure bookkeeping: retry_count+1,
	// last_error, and a deferred available_at per message.
	Retry(ctx context.Context, retries []Retry) error
	// Fail marks the given messages terminally failed (retry budget
	// exhausted). The final attempt still increments retry_count.
	Fail(ctx context.Context, failures []Failure) error
	// Defer pushes available_at forward without consuming retry budget.
	// Used for rate-limited rows.
	Defer(ctx context.Context, ids []id.MessageID, until time.Time) error
	// Commit applies all staged updates and releases the row locks.
	Commit(ctx context.Context) error
	// Rollback discards staged updates and releases the row locks.
	Rollback(ctx context.Context) error
}

// Store defines the persistence contract for outbox messages.
type Store interface {
	Inserter

	// Claim opens a transaction and selects up to BatchSize pending rows
	// with available_at <= Now, ordered by available_at then created_at
	// ascending, locking them with a skip-locked read so concurrent
	// dispatchers never observe the same row. Returns ErrNoMessages when
	// nothing is due.
	Claim(ctx context.Context, opts ClaimOptions) (Batch, error)

	// Get retrieves a message by ID.
	Get(ctx context.Context, msgID id.MessageID) (*Message, error)

	// ListByStatus returns up to limit messages in the given status,
	// oldest first. Zero limit means no limit.
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Message, error)

	// Replay resets a terminally failed message to pending with a zero
	// retry count, making it claimable immediately. Returns
	// ErrInvalidState if the message is not failed.
	Replay(ctx context.Context, msgID id.MessageID) error

	// Complete records a downstream worker's success report on a
	// dispatched message. Optional telemetry; returns ErrInvalidState if
	// the message is not dispatched.
	Complete(ctx context.Context, msgID id.MessageID) error

	// PendingCount returns the number of pending messages.
	PendingCount(ctx context.Context) (int64, error)

	// Migrate runs schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks store connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
