// Package observability provides the OpenTelemetry-backed metrics
// recorder for the outbox dispatcher.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/julianshaw2000/property-sub001/outbox"
)

// meterName is the instrumentation scope name for outbox metrics.
const meterName = "github.com/julianshaw2000/property-sub001/outbox"

// Metrics records dispatcher telemetry on OTel instruments.
//
// Instruments:
//   - outbox.batch.duration (Float64Histogram): batch processing time in seconds
//   - outbox.messages.claimed (Int64Counter): rows claimed for processing
//   - outbox.messages.dispatched (Int64Counter): rows accepted downstream
//   - outbox.messages.retried (Int64Counter): rows deferred for retry
//   - outbox.messages.failed (Int64Counter): rows terminally failed
//   - outbox.messages.unroutable (Int64Counter): rows with no matching route
//   - outbox.messages.pending (Int64Gauge): current pending row count
type Metrics struct {
	batchDuration metric.Float64Histogram
	claimed       metric.Int64Counter
	dispatched    metric.Int64Counter
	retried       metric.Int64Counter
	failed        metric.Int64Counter
	unroutable    metric.Int64Counter
	pending       metric.Int64Gauge
}

var _ outbox.Metrics = (*Metrics)(nil)

// NewMetrics creates a Metrics recorder on the global OTel MeterProvider.
// Without a configured provider the instruments are noops.
func NewMetrics() *Metrics {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates a Metrics recorder on the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func NewMetricsWithMeter(meter metric.Meter) *Metrics {
	// Instruments are created once; on error the OTel API guarantees a
	// noop fallback, so the recorder degrades gracefully.
	batchDuration, err := meter.Float64Histogram(
		"outbox.batch.duration",
		metric.WithDescription("Duration of outbox batch processing in seconds"),
		metric.WithUnit("s"),
	)
	_ = err

	claimed, err := meter.Int64Counter(
		"outbox.messages.claimed",
		metric.WithDescription("Messages claimed for dispatch"),
		metric.WithUnit("{message}"),
	)
	_ = err

	dispatched, err := meter.Int64Counter(
		"outbox.messages.dispatched",
		metric.WithDescription("Messages accepted by downstream queues"),
		metric.WithUnit("{message}"),
	)
	_ = err

	retried, err := meter.Int64Counter(
		"outbox.messages.retried",
		metric.WithDescription("Messages deferred for retry after a transient failure"),
		metric.WithUnit("{message}"),
	)
	_ = err

	failed, err := meter.Int64Counter(
		"outbox.messages.failed",
		metric.WithDescription("Messages terminally failed after exhausting retries"),
		metric.WithUnit("{message}"),
	)
	_ = err

	unroutable, err := meter.Int64Counter(
		"outbox.messages.unroutable",
		metric.WithDescription("Messages whose type matched no route"),
		metric.WithUnit("{message}"),
	)
	_ = err

	pending, err := meter.Int64Gauge(
		"outbox.messages.pending",
		metric.WithDescription("Current count of pending outbox messages"),
		metric.WithUnit("{message}"),
	)
	_ = err

	return &Metrics{
		batchDuration: batchDuration,
		claimed:       claimed,
		dispatched:    dispatched,
		retried:       retried,
		failed:        failed,
		unroutable:    unroutable,
		pending:       pending,
	}
}

// ObserveBatchDuration implements outbox.Metrics.
func (m *Metrics) ObserveBatchDuration(d time.Duration) {
	m.batchDuration.Record(context.Background(), d.Seconds())
}

// AddClaimed implements outbox.Metrics.
func (m *Metrics) AddClaimed(n int) {
	m.claimed.Add(context.Background(), int64(n))
}

// AddDispatched implements outbox.Metrics.
func (m *Metrics) AddDispatched(n int) {
	m.dispatched.Add(context.Background(), int64(n))
}

// AddRetried implements outbox.Metrics.
func (m *Metrics) AddRetried(n int) {
	m.retried.Add(context.Background(), int64(n))
}

// AddFailed implements outbox.Metrics.
func (m *Metrics) AddFailed(n int) {
	m.failed.Add(context.Background(), int64(n))
}

// AddUnroutable implements outbox.Metrics.
func (m *Metrics) AddUnroutable(n int) {
	m.unroutable.Add(context.Background(), int64(n))
}

// SetPending implements outbox.Metrics.
func (m *Metrics) SetPending(n int) {
	m.pending.Record(context.Background(), int64(n))
}
