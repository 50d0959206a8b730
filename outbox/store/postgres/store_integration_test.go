//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/julianshaw2000/property-sub001/outbox"
	"github.com/julianshaw2000/property-sub001/outbox/id"
	pgstore "github.com/julianshaw2000/property-sub001/outbox/store/postgres"
)

// setupTestStore creates a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *pgstore.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("outbox_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	store, err := pgstore.New(ctx, connStr)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return store
}

func newMessage(typ string, availableAt time.Time) *outbox.Message {
	now := time.Now().UTC()
	return &outbox.Message{
		ID:          id.NewMessageID(),
		OrgID:       "org_123",
		Type:        typ,
		Payload:     []byte(`{"k":"v"}`),
		Status:      outbox.StatusPending,
		AvailableAt: availableAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestInsertGetRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	msg := newMessage("email.ticket.created", time.Now().UTC())
	if err := store.Insert(ctx, msg); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := store.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Type != msg.Type || got.OrgID != msg.OrgID || got.Status != outbox.StatusPending {
		t.Errorf("Get = %+v, want inserted fields back", got)
	}

	if err := store.Insert(ctx, msg); !errors.Is(err, outbox.ErrDuplicateMessage) {
		t.Errorf("duplicate Insert err = %v, want ErrDuplicateMessage", err)
	}
}

func TestTxInserterJoinsTransaction(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// A rolled-back business transaction takes its outbox row with it.
	tx, err := store.Pool().Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	msg := newMessage("sms.visit.reminder", time.Now().UTC())
	if err := store.TxInserter(tx).Insert(ctx, msg); err != nil {
		t.Fatalf("tx Insert: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if _, err := store.Get(ctx, msg.ID); !errors.Is(err, outbox.ErrMessageNotFound) {
		t.Errorf("Get after rollback err = %v, want ErrMessageNotFound", err)
	}

	// A committed one persists.
	tx2, err := store.Pool().Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	msg2 := newMessage("sms.visit.reminder", time.Now().UTC())
	if err := store.TxInserter(tx2).Insert(ctx, msg2); err != nil {
		t.Fatalf("tx Insert: %v", err)
	}
	if err := tx2.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := store.Get(ctx, msg2.ID); err != nil {
		t.Errorf("Get after commit: %v", err)
	}
}

func TestClaimSkipsLockedRows(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for range 3 {
		if err := store.Insert(ctx, newMessage("email.x", now.Add(-time.Minute))); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	b1, err := store.Claim(ctx, outbox.ClaimOptions{BatchSize: 2, Now: now})
	if err != nil {
		t.Fatalf("first Claim: %v", err)
	}
	defer b1.Rollback(ctx)

	if got := len(b1.Messages()); got != 2 {
		t.Fatalf("first claim size = %d, want 2", got)
	}

	// A concurrent claim sees only the unlocked remainder.
	b2, err := store.Claim(ctx, outbox.ClaimOptions{BatchSize: 10, Now: now})
	if err != nil {
		t.Fatalf("second Claim: %v", err)
	}
	defer b2.Rollback(ctx)

	if got := len(b2.Messages()); got != 1 {
		t.Errorf("second claim size = %d, want 1", got)
	}
}

func TestClaimRespectsAvailability(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.Insert(ctx, newMessage("email.future", now.Add(time.Hour))); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, err := store.Claim(ctx, outbox.ClaimOptions{BatchSize: 10, Now: now}); !errors.Is(err, outbox.ErrNoMessages) {
		t.Fatalf("Claim err = %v, want ErrNoMessages", err)
	}
}

func TestBatchOutcomesPersistOnCommit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ok := newMessage("email.ok", now.Add(-time.Minute))
	transient := newMessage("email.transient", now.Add(-time.Minute))
	for _, m := range []*outbox.Message{ok, transient} {
		if err := store.Insert(ctx, m); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	b, err := store.Claim(ctx, outbox.ClaimOptions{BatchSize: 10, Now: now})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	retryAt := now.Add(5 * time.Minute)
	if err := b.Dispatch(ctx, []id.MessageID{ok.ID}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := b.Retry(ctx, []outbox.Retry{{ID: transient.ID, At: retryAt, Err: errors.New("timeout")}}); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if err := b.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := store.Get(ctx, ok.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != outbox.StatusDispatched {
		t.Errorf("dispatched row status = %q", got.Status)
	}

	got, err = store.Get(ctx, transient.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != outbox.StatusPending || got.RetryCount != 1 || got.LastError != "timeout" {
		t.Errorf("retried row = %+v, want pending/1/timeout", got)
	}
	if got.AvailableAt.Sub(retryAt).Abs() > time.Second {
		t.Errorf("retried row available_at = %v, want ~%v", got.AvailableAt, retryAt)
	}
}

func TestRollbackLeavesRowsPending(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	msg := newMessage("ai.ticket.triage", now.Add(-time.Minute))
	if err := store.Insert(ctx, msg); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	b, err := store.Claim(ctx, outbox.ClaimOptions{BatchSize: 1, Now: now})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := b.Dispatch(ctx, []id.MessageID{msg.ID}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := b.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	got, err := store.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != outbox.StatusPending {
		t.Errorf("status after rollback = %q, want pending", got.Status)
	}
}

func TestReplayAndComplete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	msg := newMessage("generic.webhook.deliver", now.Add(-time.Minute))
	if err := store.Insert(ctx, msg); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := store.Replay(ctx, msg.ID); !errors.Is(err, outbox.ErrInvalidState) {
		t.Fatalf("Replay of pending err = %v, want ErrInvalidState", err)
	}

	b, err := store.Claim(ctx, outbox.ClaimOptions{BatchSize: 1, Now: now})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := b.Fail(ctx, []outbox.Failure{{ID: msg.ID, Err: errors.New("dead")}}); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := b.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := store.Replay(ctx, msg.ID); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	got, err := store.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != outbox.StatusPending || got.RetryCount != 0 || got.LastError != "" {
		t.Errorf("replayed row = %+v, want pending with zero retries", got)
	}

	// Dispatch it and record completion.
	b2, err := store.Claim(ctx, outbox.ClaimOptions{BatchSize: 1, Now: time.Now().UTC().Add(time.Second)})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := b2.Dispatch(ctx, []id.MessageID{msg.ID}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := b2.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := store.Complete(ctx, msg.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, err = store.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != outbox.StatusCompleted {
		t.Errorf("completed row status = %q", got.Status)
	}
}

func TestPendingCount(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for range 4 {
		if err := store.Insert(ctx, newMessage("email.x", now)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	n, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if n != 4 {
		t.Errorf("PendingCount = %d, want 4", n)
	}
}
