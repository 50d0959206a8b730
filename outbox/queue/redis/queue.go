// Package redis provides the production queue adapter. Jobs are written
// as Redis hashes and scheduled on a per-queue sorted set, with an
// ID-keyed guard providing enqueue deduplication across outbox
// redeliveries. Guard and job write run in one Lua script, so Redis
// never holds a guard without its job.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/julianshaw2000/property-sub001/outbox/queue"
)

const (
	// DefaultPrefix namespaces all keys written by this adapter.
	DefaultPrefix = "outbox"
	// DefaultDedupTTL bounds how long an accepted job ID suppresses
	// re-enqueues. Must comfortably exceed the dispatcher's worst-case
	// redelivery window.
	DefaultDedupTTL = 24 * time.Hour
)

// Option configures the Queue.
type Option func(*Queue)

// WithPrefix overrides the key namespace.
func WithPrefix(prefix string) Option {
	return func(q *Queue) { q.prefix = prefix }
}

// WithDedupTTL overrides the deduplication window.
func WithDedupTTL(ttl time.Duration) Option {
	return func(q *Queue) { q.dedupTTL = ttl }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// Queue enqueues jobs onto Redis. Safe for concurrent use.
type Queue struct {
	client   goredis.UniversalClient
	prefix   string
	dedupTTL time.Duration
	logger   *slog.Logger
	clock    func() time.Time
}

// New creates a Queue over an existing Redis client. The caller owns the
// client's lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Queue {
	q := &Queue{
		client:   client,
		prefix:   DefaultPrefix,
		dedupTTL: DefaultDedupTTL,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}

	return q
}

var _ queue.Enqueuer = (*Queue)(nil)

// enqueueScript claims the dedup guard and writes the job hash and sorted
// set entry in one atomic step. The guard must never land without its
// job: a guard alone would suppress the redelivery that is supposed to
// make up for a half-finished enqueue.
//
// KEYS: dedup guard, job hash, queue sorted set.
// ARGV: guard TTL (ms), job id, queue, name, org_id, payload,
// max_attempts, retry_delay (ms), enqueued_at, score.
var enqueueScript = goredis.NewScript(`
if redis.call("SET", KEYS[1], "1", "NX", "PX", ARGV[1]) then
	redis.call("HSET", KEYS[2],
		"id", ARGV[2],
		"queue", ARGV[3],
		"name", ARGV[4],
		"org_id", ARGV[5],
		"payload", ARGV[6],
		"max_attempts", ARGV[7],
		"retry_delay", ARGV[8],
		"enqueued_at", ARGV[9])
	redis.call("ZADD", KEYS[3], ARGV[10], ARGV[2])
	return 1
end
return 0
`)

// Enqueue writes the job hash and schedules it on the destination queue's
// sorted set. The dedup guard makes a second enqueue of the same job ID a
// silent no-op, so redelivered outbox rows never produce duplicate jobs.
func (q *Queue) Enqueue(ctx context.Context, job *queue.Job) error {
	if job.ID == "" {
		return fmt.Errorf("outbox/redis: enqueue: job ID is required")
	}
	if job.Queue == "" {
		return fmt.Errorf("outbox/redis: enqueue %s: queue name is required", job.ID)
	}

	now := q.clock().UTC()

	keys := []string{q.dedupKey(job.ID), q.jobKey(job.ID), q.queueKey(job.Queue)}
	accepted, err := enqueueScript.Run(ctx, q.client, keys,
		q.dedupTTL.Milliseconds(),
		job.ID,
		job.Queue,
		job.Name,
		job.OrgID,
		job.Payload,
		job.MaxAttempts,
		job.RetryDelay.Milliseconds(),
		now.Format(time.RFC3339Nano),
		float64(now.UnixMilli()),
	).Bool()
	if err != nil {
		return fmt.Errorf("outbox/redis: enqueue %s: %w", job.ID, err)
	}
	if !accepted {
		q.logger.Debug("duplicate enqueue suppressed",
			slog.String("job_id", job.ID),
			slog.String("queue", job.Queue))
	}

	return nil
}

// Ping verifies connectivity to Redis.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("outbox/redis: ping: %w", err)
	}
	return nil
}

func (q *Queue) dedupKey(jobID string) string {
	return q.prefix + ":dedup:" + jobID
}

func (q *Queue) jobKey(jobID string) string {
	return q.prefix + ":job:" + jobID
}

func (q *Queue) queueKey(name string) string {
	return q.prefix + ":queue:" + name
}
