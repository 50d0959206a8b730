// Package queue defines the downstream job queue contract the dispatcher
// hands messages to, independent of the broker behind it. The redis
// subpackage provides the production adapter; the memory subpackage backs
// tests.
package queue

import (
	"context"
	"time"
)

// Job is the unit of work handed to a downstream queue. Its ID is the
// originating outbox message ID and doubles as the deduplication key:
// adapters must treat a second enqueue of the same ID as a no-op so
// redelivered messages never produce duplicate jobs.
type Job struct {
	// ID is the outbox message ID, stable across re-enqueues.
	ID string
	// Queue is the destination queue name, e.g. "email".
	Queue string
	// Name is the job name within the queue, e.g. "ticket.created".
	Name string
	// OrgID is the owning tenant.
	OrgID string
	// Payload is the JSON job body.
	Payload []byte

	// MaxAttempts and RetryDelay are the downstream worker's retry
	// policy, stamped per route. Zero values mean adapter defaults.
	MaxAttempts int
	RetryDelay  time.Duration
}

// Enqueuer accepts jobs for downstream execution.
type Enqueuer interface {
	// Enqueue submits a job. Enqueueing an already-seen job ID succeeds
	// without creating a second job.
	Enqueue(ctx context.Context, job *Job) error
}
