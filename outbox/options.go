package outbox

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/julianshaw2000/property-sub001/outbox/backoff"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher) error

// WithPollInterval sets the sleep between empty polls.
func WithPollInterval(d time.Duration) Option {
	return func(disp *Dispatcher) error {
		if d <= 0 {
			return fmt.Errorf("outbox: poll interval must be positive, got %v", d)
		}
		disp.cfg.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum rows claimed per poll.
func WithBatchSize(n int) Option {
	return func(disp *Dispatcher) error {
		if n <= 0 {
			return fmt.Errorf("outbox: batch size must be positive, got %d", n)
		}
		disp.cfg.BatchSize = n
		return nil
	}
}

// WithMaxRetries sets the retry ceiling before a message is marked
// terminally failed.
func WithMaxRetries(n int) Option {
	return func(disp *Dispatcher) error {
		if n < 0 {
			return fmt.Errorf("outbox: max retries must be non-negative, got %d", n)
		}
		disp.cfg.MaxRetries = n
		return nil
	}
}

// WithEnqueueTimeout bounds each downstream enqueue call.
func WithEnqueueTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) error {
		if d <= 0 {
			return fmt.Errorf("outbox: enqueue timeout must be positive, got %v", d)
		}
		disp.cfg.EnqueueTimeout = d
		return nil
	}
}

// WithPendingInterval enables periodic pending-count sampling for metrics.
func WithPendingInterval(d time.Duration) Option {
	return func(disp *Dispatcher) error {
		if d < 0 {
			return fmt.Errorf("outbox: pending interval must be non-negative, got %v", d)
		}
		disp.cfg.PendingInterval = d
		return nil
	}
}

// WithWorkers sets the number of concurrent poll loops.
func WithWorkers(n int) Option {
	return func(disp *Dispatcher) error {
		if n <= 0 {
			return fmt.Errorf("outbox: workers must be positive, got %d", n)
		}
		disp.cfg.Workers = n
		return nil
	}
}

// WithLogger sets the structured logger for the dispatcher.
func WithLogger(l *slog.Logger) Option {
	return func(disp *Dispatcher) error {
		if l == nil {
			return fmt.Errorf("outbox: logger must not be nil")
		}
		disp.logger = l
		return nil
	}
}

// WithBackoff sets the retry deferral strategy.
func WithBackoff(s backoff.Strategy) Option {
	return func(disp *Dispatcher) error {
		if s == nil {
			return fmt.Errorf("outbox: backoff strategy must not be nil")
		}
		disp.backoff = s
		return nil
	}
}

// WithClock sets the time source. Tests use this for deterministic
// availability and backoff timestamps.
func WithClock(c Clock) Option {
	return func(disp *Dispatcher) error {
		if c == nil {
			return fmt.Errorf("outbox: clock must not be nil")
		}
		disp.clock = c
		return nil
	}
}

// WithMetrics sets the telemetry recorder.
func WithMetrics(m Metrics) Option {
	return func(disp *Dispatcher) error {
		if m == nil {
			return fmt.Errorf("outbox: metrics must not be nil")
		}
		disp.metrics = m
		return nil
	}
}
