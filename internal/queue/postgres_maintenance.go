package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// GetByID fetches a job by identifier. Missing jobs return nil.
func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*Job, error) {
	return s.getOne(ctx, "id", id)
}

// GetBySourceID fetches a job by its source identifier. Missing jobs return nil.
func (s *PostgresStore) GetBySourceID(ctx context.Context, sourceID int64) (*Job, error) {
	return s.getOne(ctx, "source_id", sourceID)
}

func (s *PostgresStore) getOne(ctx context.Context, column string, value int64) (*Job, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT %s FROM jobs WHERE %s = $1", pgJobColumns, column), value)
	job, err := scanPostgresJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job by %s: %w", column, err)
	}
	return job, nil
}

// List returns jobs filtered by status in claim order. No statuses returns all jobs.
func (s *PostgresStore) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := fmt.Sprintf("SELECT %s FROM jobs", pgJobColumns)
	var args []any
	if len(statuses) > 0 {
		values := make([]int16, len(statuses))
		for i, status := range statuses {
			values[i] = int16(status)
		}
		query += " WHERE status = ANY($1)"
		args = append(args, values)
	}
	query += " ORDER BY created ASC, id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanPostgresJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Remove deletes a single job regardless of status.
func (s *PostgresStore) Remove(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("remove job %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClearErrored deletes every errored job.
func (s *PostgresStore) ClearErrored(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE status = $1`, int16(StatusErrored))
	if err != nil {
		return 0, fmt.Errorf("clear errored jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Stats returns a count of jobs grouped by status.
func (s *PostgresStore) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var (
			status int16
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[Status(status)] = int(count)
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *PostgresStore) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	return summarize(stats), nil
}

// CheckHealth returns diagnostic information about the queue database.
func (s *PostgresStore) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{Driver: "postgres", Location: s.location, DatabaseExists: true}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.pool.Ping(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.pool.QueryRow(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, nil
	}
	if err := s.pool.QueryRow(connCtx, "SELECT to_regclass('jobs') IS NOT NULL").Scan(&health.TableExists); err != nil {
		health.Error = err.Error()
		return health, nil
	}
	if !health.TableExists {
		return health, nil
	}
	var total int64
	if err := s.pool.QueryRow(connCtx, "SELECT COUNT(1) FROM jobs").Scan(&total); err != nil {
		health.Error = err.Error()
	}
	health.TotalJobs = int(total)
	return health, nil
}
