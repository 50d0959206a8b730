package outbox

import "time"

// Default dispatcher tuning.
const (
	DefaultPollInterval   = 5 * time.Second
	DefaultBatchSize      = 100
	DefaultMaxRetries     = 5
	DefaultEnqueueTimeout = 10 * time.Second
	DefaultWorkers        = 1
)

// Config holds dispatcher tuning. Zero values are replaced by defaults
// in DefaultConfig; options override individual fields.
type Config struct {
	// PollInterval is how long a worker sleeps after an empty claim.
	// Non-empty batches are followed by an immediate re-poll.
	PollInterval time.Duration

	// BatchSize is the maximum rows claimed per poll.
	BatchSize int

	// MaxRetries is the retry ceiling: a message that fails with
	// RetryCount == MaxRetries is marked terminally failed.
	MaxRetries int

	// EnqueueTimeout bounds each downstream enqueue call.
	EnqueueTimeout time.Duration

	// PendingInterval is how often the dispatcher samples the pending
	// row count for metrics. Zero disables sampling.
	PendingInterval time.Duration

	// Workers is the number of concurrent poll loops. Each worker claims
	// its own batches; skip-locked claims keep them disjoint.
	Workers int
}

// DefaultConfig returns the standard dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:   DefaultPollInterval,
		BatchSize:      DefaultBatchSize,
		MaxRetries:     DefaultMaxRetries,
		EnqueueTimeout: DefaultEnqueueTimeout,
		Workers:        DefaultWorkers,
	}
}
