package queue_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"mediarelay/internal/queue"
	"mediarelay/internal/testsupport"
)

// Runs only when MEDIARELAY_TEST_POSTGRES_DSN points at a disposable database.
func TestPostgresStoreContract(t *testing.T) {
	dsn := testsupport.PostgresDSN(t)

	runStoreContract(t, func(t *testing.T, opts queue.Options) queue.Store {
		ctx := context.Background()
		store, err := queue.OpenPostgres(ctx, dsn, opts)
		if err != nil {
			t.Fatalf("OpenPostgres: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		truncateJobs(t, dsn)
		return store
	})
}

func TestPostgresCheckHealth(t *testing.T) {
	dsn := testsupport.PostgresDSN(t)
	cfg := testsupport.NewConfig(t, testsupport.WithPostgres(dsn))
	store := testsupport.MustOpenStore(t, cfg)
	truncateJobs(t, dsn)

	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if health.Driver != "postgres" || !health.DatabaseReadable || !health.TableExists {
		t.Fatalf("unexpected health %+v", health)
	}
	if health.SchemaVersion != 1 {
		t.Fatalf("expected schema version 1, got %d", health.SchemaVersion)
	}
}

func truncateJobs(t *testing.T, dsn string) {
	t.Helper()

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	defer pool.Close()
	if _, err := pool.Exec(context.Background(), "TRUNCATE jobs RESTART IDENTITY"); err != nil {
		t.Fatalf("truncate jobs: %v", err)
	}
}
