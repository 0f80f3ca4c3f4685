package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"
)

// Purge deletes processed jobs created before cutoff. Jobs in any other
// status are never removed here.
func (s *SQLiteStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM jobs WHERE status = ? AND created < ?`,
		int(StatusProcessed), formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("purge processed jobs: %w", err)
	}
	return res.RowsAffected()
}

// GetByID fetches a job by identifier. Missing jobs return nil.
func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (*Job, error) {
	return s.getOne(ctx, "id", id)
}

// GetBySourceID fetches a job by its source identifier. Missing jobs return nil.
func (s *SQLiteStore) GetBySourceID(ctx context.Context, sourceID int64) (*Job, error) {
	return s.getOne(ctx, "source_id", sourceID)
}

func (s *SQLiteStore) getOne(ctx context.Context, column string, value int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM jobs WHERE %s = ?", jobColumns, column), value)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job by %s: %w", column, err)
	}
	return job, nil
}

// List returns jobs filtered by status in claim order. No statuses returns all jobs.
func (s *SQLiteStore) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	query := fmt.Sprintf("SELECT %s FROM jobs", jobColumns)
	var args []any
	if len(statuses) > 0 {
		query += fmt.Sprintf(" WHERE status IN (%s)", makePlaceholders(len(statuses)))
		args = statusArgs(statuses)
	}
	query += " ORDER BY created ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Remove deletes a single job regardless of status.
func (s *SQLiteStore) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove job %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ClearErrored deletes every errored job.
func (s *SQLiteStore) ClearErrored(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE status = ?`, int(StatusErrored))
	if err != nil {
		return 0, fmt.Errorf("clear errored jobs: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of jobs grouped by status.
func (s *SQLiteStore) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var (
			status int
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *SQLiteStore) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	return summarize(stats), nil
}

// CheckHealth returns diagnostic information about the queue database.
func (s *SQLiteStore) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{Driver: "sqlite", Location: s.path}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, nil
	}

	var tableName string
	err = s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'jobs'").Scan(&tableName)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return health, nil
	case err != nil:
		health.Error = err.Error()
		return health, nil
	}
	health.TableExists = true

	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(1) FROM jobs").Scan(&health.TotalJobs); err != nil {
		health.Error = err.Error()
	}
	return health, nil
}
