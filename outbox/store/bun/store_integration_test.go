//go:build integration

package bunstore_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/julianshaw2000/property-sub001/outbox"
	"github.com/julianshaw2000/property-sub001/outbox/id"
	bunstore "github.com/julianshaw2000/property-sub001/outbox/store/bun"
)

// setupTestStore creates a Postgres container and returns a migrated Bun Store.
func setupTestStore(t *testing.T) *bunstore.Store {
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

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { _ = db.Close() })

	store := bunstore.New(db)
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
	if got.Type != msg.Type || got.Status != outbox.StatusPending {
		t.Errorf("Get = %+v, want inserted fields back", got)
	}

	if err := store.Insert(ctx, msg); !errors.Is(err, outbox.ErrDuplicateMessage) {
		t.Errorf("duplicate Insert err = %v, want ErrDuplicateMessage", err)
	}
}

func TestTxInserterJoinsTransaction(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tx, err := store.DB().BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	msg := newMessage("sms.visit.reminder", time.Now().UTC())
	if err := store.TxInserter(tx).Insert(ctx, msg); err != nil {
		t.Fatalf("tx Insert: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	if _, err := store.Get(ctx, msg.ID); !errors.Is(err, outbox.ErrMessageNotFound) {
		t.Errorf("Get after rollback err = %v, want ErrMessageNotFound", err)
	}
}

func TestClaimAndCommitOutcomes(t *testing.T) {
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
	if got.Status != outbox.StatusPending || got.RetryCount != 1 {
		t.Errorf("retried row = status %q retries %d, want pending/1", got.Status, got.RetryCount)
	}
}

func TestReplayFailedMessage(t *testing.T) {
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
	if got.Status != outbox.StatusPending || got.RetryCount != 0 {
		t.Errorf("replayed row = %+v, want pending with zero retries", got)
	}

	n, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if n != 1 {
		t.Errorf("PendingCount = %d, want 1", n)
	}
}
