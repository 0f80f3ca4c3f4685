package testsupport

import (
	"context"
	"os"
	"testing"
	"time"

	"mediarelay/internal/config"
	"mediarelay/internal/queue"
)

// PostgresDSNEnv names the variable that enables postgres-backed tests.
const PostgresDSNEnv = "MEDIARELAY_TEST_POSTGRES_DSN"

// MustOpenStore opens the store selected by cfg and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) queue.Store {
	t.Helper()

	store, err := queue.Open(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenSQLite opens a SQLite store with explicit options.
func MustOpenSQLite(t testing.TB, cfg *config.Config, opts queue.Options) *queue.SQLiteStore {
	t.Helper()

	store, err := queue.OpenSQLite(context.Background(), cfg.Store.SQLitePath, opts)
	if err != nil {
		t.Fatalf("queue.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// PostgresDSN returns the DSN for postgres tests or skips the test.
func PostgresDSN(t testing.TB) string {
	t.Helper()

	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresDSNEnv)
	}
	return dsn
}

// MustEnqueue inserts a job and fails the test unless a row was created.
func MustEnqueue(t testing.TB, store queue.Store, sourceID int64, name string, created time.Time) *queue.Job {
	t.Helper()

	job := &queue.Job{SourceID: sourceID, Name: name, Created: created}
	ok, err := store.Enqueue(context.Background(), job)
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	if !ok {
		t.Fatalf("store.Enqueue(%d): expected new row", sourceID)
	}
	return job
}

// MustClaim claims the next job and fails the test when the queue is empty.
func MustClaim(t testing.TB, store queue.Store) *queue.Job {
	t.Helper()

	job, err := store.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("store.ClaimNext: %v", err)
	}
	if job == nil {
		t.Fatal("store.ClaimNext: expected a job")
	}
	return job
}
