package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/julianshaw2000/property-sub001/outbox/backoff"
	"github.com/julianshaw2000/property-sub001/outbox/id"
)

// Dispatcher polls the outbox store for pending messages and routes them
// to downstream queues. Multiple dispatcher processes can run against the
// same store; skip-locked claims keep their batches disjoint.
type Dispatcher struct {
	store   Store
	router  *Router
	cfg     Config
	logger  *slog.Logger
	backoff backoff.Strategy
	clock   Clock
	metrics Metrics

	mu         sync.Mutex
	lastSample time.Time
}

// New creates a Dispatcher over the given store and router.
func New(store Store, router *Router, opts ...Option) (*Dispatcher, error) {
	if store == nil {
		return nil, ErrNoStore
	}
	if router == nil {
		return nil, ErrNoRouter
	}

	d := &Dispatcher{
		store:   store,
		router:  router,
		cfg:     DefaultConfig(),
		logger:  slog.Default(),
		backoff: backoff.DefaultStrategy(),
		clock:   SystemClock{},
		metrics: NopMetrics{},
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Run polls until ctx is canceled. It spawns cfg.Workers poll loops and
// blocks until all of them exit; the return value is nil on clean
// shutdown.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher starting",
		slog.Int("workers", d.cfg.Workers),
		slog.Int("batch_size", d.cfg.BatchSize),
		slog.Duration("poll_interval", d.cfg.PollInterval))

	var wg sync.WaitGroup
	for i := range d.cfg.Workers {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.runWorker(ctx, worker)
		}(i)
	}
	wg.Wait()

	d.logger.Info("dispatcher stopped")

	return nil
}

// runWorker is one poll loop. A batch that made progress is followed by
// an immediate re-poll so backlogs drain at full speed; empty and
// no-progress polls sleep for the poll interval. Rows left untouched
// (unroutable types) do not count as progress, so a stuck row cannot
// turn the loop into a busy-wait.
func (d *Dispatcher) runWorker(ctx context.Context, worker int) {
	logger := d.logger.With(slog.Int("worker", worker))

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := d.processGuarded(ctx)
		switch {
		case err != nil && errors.Is(err, context.Canceled):
			return
		case err != nil:
			logger.Error("batch processing failed", slog.String("error", err.Error()))
		case n > 0:
			continue
		}

		if !sleepCtx(ctx, d.cfg.PollInterval) {
			return
		}
	}
}

// processGuarded runs ProcessOnce with panic recovery so a misbehaving
// queue adapter cannot kill the poll loop.
func (d *Dispatcher) processGuarded(ctx context.Context) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n = 0
			err = fmt.Errorf("%w: %v", ErrWorkerPanic, r)
		}
	}()

	return d.ProcessOnce(ctx)
}

// ProcessOnce claims and processes a single batch, returning the number
// of messages it settled (dispatched, retried, or terminally failed). A
// zero count with a nil error means nothing was due, or the batch held
// only rows the dispatcher leaves untouched.
func (d *Dispatcher) ProcessOnce(ctx context.Context) (int, error) {
	start := d.clock.Now()

	batch, err := d.store.Claim(ctx, ClaimOptions{
		BatchSize: d.cfg.BatchSize,
		Now:       start,
	})
	if errors.Is(err, ErrNoMessages) {
		d.samplePending(ctx)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("outbox: claim batch: %w", err)
	}

	msgs := batch.Messages()
	d.metrics.AddClaimed(len(msgs))

	// The claim must be released on every exit path, panics included: a
	// leaked claim transaction pins its row locks and the rows become
	// permanently unclaimable.
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := batch.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			d.logger.Error("batch rollback failed", slog.String("error", rbErr.Error()))
		}
	}()

	outcome, err := d.processBatch(ctx, batch, msgs)
	if err != nil {
		return 0, err
	}

	if err := batch.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit batch: %w", err)
	}
	committed = true

	d.metrics.AddDispatched(outcome.dispatched)
	d.metrics.AddRetried(outcome.retried)
	d.metrics.AddFailed(outcome.failed)
	d.metrics.AddUnroutable(outcome.unroutable)
	d.metrics.ObserveBatchDuration(d.clock.Now().Sub(start))

	if outcome.retried > 0 || outcome.failed > 0 || outcome.unroutable > 0 {
		d.logger.Info("batch committed",
			slog.Int("claimed", len(msgs)),
			slog.Int("dispatched", outcome.dispatched),
			slog.Int("retried", outcome.retried),
			slog.Int("failed", outcome.failed),
			slog.Int("unroutable", outcome.unroutable))
	} else {
		d.logger.Debug("batch committed",
			slog.Int("claimed", len(msgs)),
			slog.Int("dispatched", outcome.dispatched))
	}

	d.samplePending(ctx)

	return outcome.dispatched + outcome.retried + outcome.failed, nil
}

type batchOutcome struct {
	dispatched int
	retried    int
	failed     int
	unroutable int
}

// processBatch enqueues each claimed message and stages its outcome on
// the batch transaction. A canceled parent context aborts mid-batch; the
// caller rolls back and every row stays pending.
func (d *Dispatcher) processBatch(ctx context.Context, batch Batch, msgs []*Message) (batchOutcome, error) {
	var (
		outcome    batchOutcome
		dispatched []id.MessageID
		retries    []Retry
		failures   []Failure
		deferred   []id.MessageID
	)

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		typ := ParseType(msg.Type)
		if typ.Unrecognized() {
			d.logger.Warn("unroutable message type",
				slog.String("message_id", msg.ID.String()),
				slog.String("type", msg.Type))
			outcome.unroutable++
			continue
		}

		err := d.enqueue(ctx, msg, typ)
		switch {
		case err == nil:
			dispatched = append(dispatched, msg.ID)
			outcome.dispatched++

		case errors.Is(err, ErrUnroutable):
			d.logger.Warn("no route for message type",
				slog.String("message_id", msg.ID.String()),
				slog.String("type", msg.Type))
			outcome.unroutable++

		case errors.Is(err, ErrRateLimited):
			deferred = append(deferred, msg.ID)

		default:
			attempt := msg.RetryCount + 1
			if attempt > d.cfg.MaxRetries {
				failures = append(failures, Failure{ID: msg.ID, Err: err})
				outcome.failed++
				d.logger.Error("message exhausted retry budget",
					slog.String("message_id", msg.ID.String()),
					slog.String("type", msg.Type),
					slog.Int("attempts", attempt),
					slog.String("error", err.Error()))
			} else {
				at := d.clock.Now().Add(d.backoff.Delay(attempt))
				retries = append(retries, Retry{ID: msg.ID, At: at, Err: err})
				outcome.retried++
				d.logger.Warn("enqueue failed, deferring for retry",
					slog.String("message_id", msg.ID.String()),
					slog.String("type", msg.Type),
					slog.Int("attempt", attempt),
					slog.Time("next_attempt_at", at),
					slog.String("error", err.Error()))
			}
		}
	}

	if len(dispatched) > 0 {
		if err := batch.Dispatch(ctx, dispatched); err != nil {
			return outcome, fmt.Errorf("outbox: stage dispatched: %w", err)
		}
	}
	if len(retries) > 0 {
		if err := batch.Retry(ctx, retries); err != nil {
			return outcome, fmt.Errorf("outbox: stage retries: %w", err)
		}
	}
	if len(failures) > 0 {
		if err := batch.Fail(ctx, failures); err != nil {
			return outcome, fmt.Errorf("outbox: stage failures: %w", err)
		}
	}
	if len(deferred) > 0 {
		until := d.clock.Now().Add(d.cfg.PollInterval)
		if err := batch.Defer(ctx, deferred, until); err != nil {
			return outcome, fmt.Errorf("outbox: stage deferrals: %w", err)
		}
	}

	return outcome, nil
}

// enqueue bounds one downstream call with the configured timeout.
func (d *Dispatcher) enqueue(ctx context.Context, msg *Message, typ Type) error {
	ectx, cancel := context.WithTimeout(ctx, d.cfg.EnqueueTimeout)
	defer cancel()

	return d.router.Enqueue(ectx, msg, typ)
}

// samplePending refreshes the pending-count gauge at most once per
// PendingInterval.
func (d *Dispatcher) samplePending(ctx context.Context) {
	if d.cfg.PendingInterval <= 0 {
		return
	}

	now := d.clock.Now()

	d.mu.Lock()
	due := now.Sub(d.lastSample) >= d.cfg.PendingInterval
	if due {
		d.lastSample = now
	}
	d.mu.Unlock()

	if !due {
		return
	}

	n, err := d.store.PendingCount(ctx)
	if err != nil {
		d.logger.Warn("pending count failed", slog.String("error", err.Error()))
		return
	}
	d.metrics.SetPending(int(n))
}

// sleepCtx sleeps for d or until ctx is canceled; it reports whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
