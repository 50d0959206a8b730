package outbox

import "time"

// Metrics captures dispatcher-level telemetry. The observability package
// provides an OpenTelemetry-backed implementation.
type Metrics interface {
	// ObserveBatchDuration records the time spent processing one claim batch.
	ObserveBatchDuration(d time.Duration)
	// AddClaimed increments the count of rows claimed for processing.
	AddClaimed(n int)
	// AddDispatched increments the count of rows accepted downstream.
	AddDispatched(n int)
	// AddRetried increments the count of rows deferred for retry.
	AddRetried(n int)
	// AddFailed increments the count of rows terminally failed.
	AddFailed(n int)
	// AddUnroutable increments the count of rows with no matching route.
	AddUnroutable(n int)
	// SetPending updates the current pending row count.
	SetPending(n int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveBatchDuration implements Metrics.
func (NopMetrics) ObserveBatchDuration(time.Duration) {}

// AddClaimed implements Metrics.
func (NopMetrics) AddClaimed(int) {}

// AddDispatched implements Metrics.
func (NopMetrics) AddDispatched(int) {}

// AddRetried implements Metrics.
func (NopMetrics) AddRetried(int) {}

// AddFailed implements Metrics.
func (NopMetrics) AddFailed(int) {}

// AddUnroutable implements Metrics.
func (NopMetrics) AddUnroutable(int) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(int) {}
