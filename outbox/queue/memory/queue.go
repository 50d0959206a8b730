// Package memory provides an in-memory queue adapter for tests and local
// development. Jobs are held per queue name with the same ID-based
// deduplication the redis adapter enforces.
package memory

import (
	"context"
	"sync"

	"github.com/julianshaw2000/property-sub001/outbox/queue"
)

// Queue is an in-memory Enqueuer. Safe for concurrent use.
type Queue struct {
	mu   sync.Mutex
	seen map[string]struct{}
	jobs map[string][]*queue.Job

	// FailFunc, when set, is consulted before accepting a job; a non-nil
	// return is surfaced as the enqueue error. Tests use it to simulate
	// downstream outages.
	FailFunc func(job *queue.Job) error
}

// New creates an empty in-memory queue.
func New() *Queue {
	return &Queue{
		seen: make(map[string]struct{}),
		jobs: make(map[string][]*queue.Job),
	}
}

var _ queue.Enqueuer = (*Queue)(nil)

// Enqueue accepts a job. Re-enqueueing an already-seen job ID is a
// no-op.
func (q *Queue) Enqueue(ctx context.Context, job *queue.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	failFn := q.FailFunc
	q.mu.Unlock()

	if failFn != nil {
		if err := failFn(job); err != nil {
			return err
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.seen[job.ID]; dup {
		return nil
	}
	q.seen[job.ID] = struct{}{}

	cp := *job
	q.jobs[job.Queue] = append(q.jobs[job.Queue], &cp)

	return nil
}

// Jobs returns the accepted jobs for one queue, in enqueue order.
func (q *Queue) Jobs(name string) []*queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*queue.Job, len(q.jobs[name]))
	copy(out, q.jobs[name])

	return out
}

// Len returns the total number of accepted jobs across all queues.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, js := range q.jobs {
		n += len(js)
	}

	return n
}
