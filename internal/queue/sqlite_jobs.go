package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"mediarelay/internal/logging"
)

// Eligible rows: queued, errored under the attempt cap, or processing with a
// stale heartbeat. Args: maxAttempts, maxAttempts, staleCutoff.
var sqliteClaimCandidateSQL = fmt.Sprintf(`SELECT %s FROM jobs
WHERE status = %d
   OR (status = %d AND (? = 0 OR attempts < ?))
   OR (status = %d AND COALESCE(last_heartbeat, modified, created) < ?)
ORDER BY created ASC, id ASC
LIMIT 1`, jobColumns, StatusQueued, StatusErrored, StatusProcessing)

// Enqueue inserts job if it is valid and its source ID has not been seen.
func (s *SQLiteStore) Enqueue(ctx context.Context, job *Job) (bool, error) {
	if !job.Valid() {
		return false, nil
	}
	created := job.Created
	if created.IsZero() {
		created = s.now()
	}
	created = created.UTC()

	res, err := s.execWithRetry(ctx,
		`INSERT INTO jobs (source_id, name, created, status, attempts)
		 VALUES (?, ?, ?, ?, 0)
		 ON CONFLICT (source_id) DO NOTHING`,
		job.SourceID, job.Name, formatTime(created), int(StatusQueued),
	)
	if err != nil {
		return false, fmt.Errorf("enqueue job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue rows affected: %w", err)
	}
	if affected != 1 {
		return false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("enqueue last insert id: %w", err)
	}
	job.ID = id
	job.Created = created
	job.Status = StatusQueued
	job.Attempts = 0
	return true, nil
}

// ClaimNext selects the oldest eligible job and moves it to Processing in one
// transaction. A lost compare-and-swap returns nil without retrying.
func (s *SQLiteStore) ClaimNext(ctx context.Context) (*Job, error) {
	var claimed *Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		claimed = nil
		now := s.now()
		staleCutoff := formatTime(now.Add(-s.opts.StaleClaimTimeout))
		row := tx.QueryRowContext(ctx, sqliteClaimCandidateSQL,
			s.opts.MaxAttempts, s.opts.MaxAttempts, staleCutoff)
		candidate, err := scanSQLiteJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select claim candidate: %w", err)
		}

		stamp := stampAfter(now, candidate.Created)
		token := uuid.NewString()
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs
			 SET status = ?, modified = ?, last_heartbeat = ?, claim_token = ?, attempts = attempts + 1
			 WHERE id = ? AND status = ? AND COALESCE(claim_token, '') = ?`,
			int(StatusProcessing), formatTime(stamp), formatTime(stamp), token,
			candidate.ID, int(candidate.Status), candidate.ClaimToken,
		)
		if err != nil {
			return fmt.Errorf("claim job %d: %w", candidate.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim rows affected: %w", err)
		}
		if affected != 1 {
			s.opts.Logger.Debug("claim lost to another worker",
				logging.Int64(logging.FieldJobID, candidate.ID),
				logging.String(logging.FieldEventType, "claim_conflict"),
			)
			return nil
		}

		if candidate.Status == StatusProcessing {
			logging.WarnWithContext(s.opts.Logger, "reclaimed stale processing job", "claim_reclaimed",
				logging.Int64(logging.FieldJobID, candidate.ID),
				logging.Int64(logging.FieldSourceID, candidate.SourceID),
				logging.Duration("stale_after", s.opts.StaleClaimTimeout),
				logging.String(logging.FieldErrorHint, "a previous worker stopped without finalizing this job"),
				logging.String(logging.FieldImpact, "job will be delivered again"),
			)
		}
		candidate.Status = StatusProcessing
		candidate.Modified = &stamp
		candidate.LastHeartbeat = &stamp
		candidate.ClaimToken = token
		candidate.Attempts++
		claimed = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// UpdateStatus writes the outcome for a claimed job. It succeeds only when
// exactly one row matches the job ID, the Processing status, and the claim
// token; any other row count rolls back and reports false.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, job *Job, status Status, opts UpdateOptions) (bool, error) {
	if _, ok := finalStatuses[status]; !ok {
		return false, fmt.Errorf("%w: cannot set %s", ErrInvalidTransition, status)
	}
	if !job.Valid() || job.ID == 0 {
		return false, nil
	}
	if status == StatusProcessed && opts.DestinationID == nil {
		return false, fmt.Errorf("update job %d: %w", job.ID, ErrMissingDestination)
	}

	stamp := stampAfter(s.now(), job.Created)
	var destination *int64
	query := `UPDATE jobs
		SET status = ?, modified = ?, exception_message = COALESCE(?, exception_message),
		    claim_token = NULL, last_heartbeat = NULL
		WHERE id = ? AND status = ? AND claim_token = ?`
	args := []any{int(status), formatTime(stamp), nullableString(opts.ExceptionMessage),
		job.ID, int(StatusProcessing), job.ClaimToken}
	if status == StatusProcessed {
		destination = opts.DestinationID
		query = `UPDATE jobs
			SET status = ?, modified = ?, destination_id = ?, exception_message = NULL,
			    claim_token = NULL, last_heartbeat = NULL
			WHERE id = ? AND status = ? AND claim_token = ?`
		args = []any{int(status), formatTime(stamp), nullableInt64(destination),
			job.ID, int(StatusProcessing), job.ClaimToken}
	}

	updated := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		updated = false
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update job %d status: %w", job.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update rows affected: %w", err)
		}
		if affected != 1 {
			return errLostUpdate
		}
		updated = true
		return nil
	})
	if errors.Is(err, errLostUpdate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	job.Status = status
	job.Modified = &stamp
	job.ClaimToken = ""
	job.LastHeartbeat = nil
	if status == StatusProcessed {
		job.DestinationID = destination
		job.ExceptionMessage = ""
	} else if opts.ExceptionMessage != "" {
		job.ExceptionMessage = opts.ExceptionMessage
	}
	return updated, nil
}

// Touch refreshes the heartbeat for a job the caller still holds.
func (s *SQLiteStore) Touch(ctx context.Context, job *Job) (bool, error) {
	if job == nil || job.ID == 0 || job.ClaimToken == "" {
		return false, nil
	}
	stamp := s.now()
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET last_heartbeat = ? WHERE id = ? AND status = ? AND claim_token = ?`,
		formatTime(stamp), job.ID, int(StatusProcessing), job.ClaimToken,
	)
	if err != nil {
		return false, fmt.Errorf("touch job %d: %w", job.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("touch rows affected: %w", err)
	}
	if affected != 1 {
		return false, nil
	}
	job.LastHeartbeat = &stamp
	return true, nil
}
