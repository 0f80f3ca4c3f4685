package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore manages queue persistence backed by Postgres so workers on
// several hosts can share one queue.
type PostgresStore struct {
	pool     *pgxpool.Pool
	location string
	opts     Options
}

var _ Store = (*PostgresStore)(nil)

const pgJobColumns = jobColumns

// OpenPostgres connects to dsn and initializes the schema when absent.
func OpenPostgres(ctx context.Context, dsn string, opts Options) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("open postgres queue: dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = int32(opts.MaxConns)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{
		pool: pool,
		location: fmt.Sprintf("%s:%d/%s",
			poolCfg.ConnConfig.Host, poolCfg.ConnConfig.Port, poolCfg.ConnConfig.Database),
		opts: opts.withDefaults(),
	}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *PostgresStore) now() time.Time {
	return s.opts.Clock().UTC()
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Serialize concurrent first starts.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext('mediarelay_schema'))"); err != nil {
		return fmt.Errorf("lock schema: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT to_regclass('schema_version') IS NOT NULL").Scan(&exists); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if exists {
		var version int
		if err := tx.QueryRow(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		if version != schemaVersion {
			return schemaMismatch(version)
		}
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, postgresSchemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_version (version) VALUES ($1)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func scanPostgresJob(row pgx.Row) (*Job, error) {
	var (
		job        Job
		status     int16
		name       *string
		exception  *string
		claimToken *string
	)
	if err := row.Scan(
		&job.ID,
		&job.SourceID,
		&job.DestinationID,
		&job.Created,
		&job.Modified,
		&name,
		&status,
		&exception,
		&job.Attempts,
		&claimToken,
		&job.LastHeartbeat,
	); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	if name != nil {
		job.Name = *name
	}
	if exception != nil {
		job.ExceptionMessage = *exception
	}
	if claimToken != nil {
		job.ClaimToken = *claimToken
	}
	return &job, nil
}

func optionalText(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
