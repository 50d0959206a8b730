// Package memory provides an in-memory outbox store for tests and local
// development. Claims mimic the skip-locked semantics of the SQL
// backends: a claimed row is invisible to concurrent claims until its
// batch commits or rolls back.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/julianshaw2000/property-sub001/outbox"
	"github.com/julianshaw2000/property-sub001/outbox/id"
)

// Store is an in-memory outbox.Store. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	msgs    map[string]*outbox.Message
	claimed map[string]struct{}

	// Now supplies timestamps for state transitions. Tests override it
	// for deterministic updated_at values.
	Now func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		msgs:    make(map[string]*outbox.Message),
		claimed: make(map[string]struct{}),
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

var _ outbox.Store = (*Store)(nil)

// Insert implements outbox.Inserter.
func (s *Store) Insert(_ context.Context, msg *outbox.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := msg.ID.String()
	if _, dup := s.msgs[key]; dup {
		return outbox.ErrDuplicateMessage
	}

	cp := *msg
	s.msgs[key] = &cp

	return nil
}

// Claim implements outbox.Store.
func (s *Store) Claim(_ context.Context, opts outbox.ClaimOptions) (outbox.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*outbox.Message
	for key, msg := range s.msgs {
		if _, held := s.claimed[key]; held {
			continue
		}
		if msg.Status != outbox.StatusPending || msg.AvailableAt.After(opts.Now) {
			continue
		}
		due = append(due, msg)
	}
	if len(due) == 0 {
		return nil, outbox.ErrNoMessages
	}

	sort.Slice(due, func(i, j int) bool {
		if !due[i].AvailableAt.Equal(due[j].AvailableAt) {
			return due[i].AvailableAt.Before(due[j].AvailableAt)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if opts.BatchSize > 0 && len(due) > opts.BatchSize {
		due = due[:opts.BatchSize]
	}

	snapshot := make([]*outbox.Message, len(due))
	for i, msg := range due {
		s.claimed[msg.ID.String()] = struct{}{}
		cp := *msg
		snapshot[i] = &cp
	}

	return &batch{store: s, msgs: snapshot}, nil
}

// Get implements outbox.Store.
func (s *Store) Get(_ context.Context, msgID id.MessageID) (*outbox.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.msgs[msgID.String()]
	if !ok {
		return nil, outbox.ErrMessageNotFound
	}

	cp := *msg
	return &cp, nil
}

// ListByStatus implements outbox.Store.
func (s *Store) ListByStatus(_ context.Context, status outbox.Status, limit int) ([]*outbox.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*outbox.Message
	for _, msg := range s.msgs {
		if msg.Status != status {
			continue
		}
		cp := *msg
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

// Replay implements outbox.Store.
func (s *Store) Replay(_ context.Context, msgID id.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.msgs[msgID.String()]
	if !ok {
		return outbox.ErrMessageNotFound
	}
	if msg.Status != outbox.StatusFailed {
		return fmt.Errorf("%w: replay requires status %q, got %q",
			outbox.ErrInvalidState, outbox.StatusFailed, msg.Status)
	}

	now := s.Now()
	msg.Status = outbox.StatusPending
	msg.RetryCount = 0
	msg.LastError = ""
	msg.AvailableAt = now
	msg.UpdatedAt = now

	return nil
}

// Complete implements outbox.Store.
func (s *Store) Complete(_ context.Context, msgID id.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.msgs[msgID.String()]
	if !ok {
		return outbox.ErrMessageNotFound
	}
	if msg.Status != outbox.StatusDispatched {
		return fmt.Errorf("%w: complete requires status %q, got %q",
			outbox.ErrInvalidState, outbox.StatusDispatched, msg.Status)
	}

	msg.Status = outbox.StatusCompleted
	msg.UpdatedAt = s.Now()

	return nil
}

// PendingCount implements outbox.Store.
func (s *Store) PendingCount(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, msg := range s.msgs {
		if msg.Status == outbox.StatusPending {
			n++
		}
	}

	return n, nil
}

// Migrate implements outbox.Store. No-op for the in-memory backend.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping implements outbox.Store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close implements outbox.Store.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Batch
// ──────────────────────────────────────────────────

type batch struct {
	store *Store
	msgs  []*outbox.Message

	mu       sync.Mutex
	done     bool
	dispatch []id.MessageID
	retries  []outbox.Retry
	failures []outbox.Failure
	deferred map[string]time.Time
}

var _ outbox.Batch = (*batch)(nil)

func (b *batch) Messages() []*outbox.Message { return b.msgs }

func (b *batch) Dispatch(_ context.Context, ids []id.MessageID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return outbox.ErrInvalidState
	}
	b.dispatch = append(b.dispatch, ids...)

	return nil
}

func (b *batch) Retry(_ context.Context, retries []outbox.Retry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return outbox.ErrInvalidState
	}
	b.retries = append(b.retries, retries...)

	return nil
}

func (b *batch) Fail(_ context.Context, failures []outbox.Failure) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return outbox.ErrInvalidState
	}
	b.failures = append(b.failures, failures...)

	return nil
}

func (b *batch) Defer(_ context.Context, ids []id.MessageID, until time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return outbox.ErrInvalidState
	}
	if b.deferred == nil {
		b.deferred = make(map[string]time.Time)
	}
	for _, msgID := range ids {
		b.deferred[msgID.String()] = until
	}

	return nil
}

// Commit applies the staged updates and releases the claims.
func (b *batch) Commit(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return outbox.ErrInvalidState
	}
	b.done = true

	s := b.store
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()

	for _, msgID := range b.dispatch {
		if msg, ok := s.msgs[msgID.String()]; ok {
			msg.Status = outbox.StatusDispatched
			msg.UpdatedAt = now
		}
	}
	for _, r := range b.retries {
		if msg, ok := s.msgs[r.ID.String()]; ok {
			msg.RetryCount++
			msg.LastError = r.Err.Error()
			msg.AvailableAt = r.At
			msg.UpdatedAt = now
		}
	}
	for _, f := range b.failures {
		if msg, ok := s.msgs[f.ID.String()]; ok {
			msg.Status = outbox.StatusFailed
			msg.RetryCount++
			msg.LastError = f.Err.Error()
			msg.UpdatedAt = now
		}
	}
	for key, until := range b.deferred {
		if msg, ok := s.msgs[key]; ok {
			msg.AvailableAt = until
			msg.UpdatedAt = now
		}
	}

	b.release()

	return nil
}

// Rollback discards the staged updates and releases the claims; every
// row stays pending.
func (b *batch) Rollback(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return nil
	}
	b.done = true

	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	b.release()

	return nil
}

// release drops the claim marks. Caller holds store.mu.
func (b *batch) release() {
	for _, msg := range b.msgs {
		delete(b.store.claimed, msg.ID.String())
	}
}
