package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"mediarelay/internal/logging"
)

// Rows locked by a competing claimant are skipped rather than waited on.
var pgClaimCandidateSQL = fmt.Sprintf(`SELECT %s FROM jobs
WHERE status = %d
   OR (status = %d AND ($1::int = 0 OR attempts < $1::int))
   OR (status = %d AND COALESCE(last_heartbeat, modified, created) < $2)
ORDER BY created ASC, id ASC
LIMIT 1
FOR UPDATE SKIP LOCKED`, pgJobColumns, StatusQueued, StatusErrored, StatusProcessing)

// Enqueue inserts job if it is valid and its source ID has not been seen.
func (s *PostgresStore) Enqueue(ctx context.Context, job *Job) (bool, error) {
	if !job.Valid() {
		return false, nil
	}
	created := job.Created
	if created.IsZero() {
		created = s.now()
	}
	created = created.UTC()

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (source_id, name, created, status, attempts)
		 VALUES ($1, $2, $3, $4, 0)
		 ON CONFLICT ON CONSTRAINT source_id_unique DO NOTHING
		 RETURNING id`,
		job.SourceID, job.Name, created, int16(StatusQueued),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("enqueue job: %w", err)
	}
	job.ID = id
	job.Created = created
	job.Status = StatusQueued
	job.Attempts = 0
	return true, nil
}

// ClaimNext locks the oldest eligible row and moves it to Processing in one
// transaction.
func (s *PostgresStore) ClaimNext(ctx context.Context) (*Job, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := s.now()
	candidate, err := scanPostgresJob(tx.QueryRow(ctx, pgClaimCandidateSQL,
		s.opts.MaxAttempts, now.Add(-s.opts.StaleClaimTimeout)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select claim candidate: %w", err)
	}

	stamp := stampAfter(now, candidate.Created)
	token := uuid.NewString()
	tag, err := tx.Exec(ctx,
		`UPDATE jobs
		 SET status = $1, modified = $2, last_heartbeat = $2, claim_token = $3, attempts = attempts + 1
		 WHERE id = $4 AND status = $5 AND claim_token IS NOT DISTINCT FROM $6`,
		int16(StatusProcessing), stamp, token, candidate.ID, int16(candidate.Status), optionalText(candidate.ClaimToken),
	)
	if err != nil {
		return nil, fmt.Errorf("claim job %d: %w", candidate.ID, err)
	}
	if tag.RowsAffected() != 1 {
		s.opts.Logger.Debug("claim lost to another worker",
			logging.Int64(logging.FieldJobID, candidate.ID),
			logging.String(logging.FieldEventType, "claim_conflict"),
		)
		return nil, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
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
	return candidate, nil
}

// UpdateStatus writes the outcome for a claimed job; see Store.
func (s *PostgresStore) UpdateStatus(ctx context.Context, job *Job, status Status, opts UpdateOptions) (bool, error) {
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
	query := `UPDATE jobs
		SET status = $1, modified = $2, exception_message = COALESCE($3, exception_message),
		    claim_token = NULL, last_heartbeat = NULL
		WHERE id = $4 AND status = $5 AND claim_token = $6`
	args := []any{int16(status), stamp, optionalText(opts.ExceptionMessage),
		job.ID, int16(StatusProcessing), job.ClaimToken}
	if status == StatusProcessed {
		query = `UPDATE jobs
			SET status = $1, modified = $2, destination_id = $3, exception_message = NULL,
			    claim_token = NULL, last_heartbeat = NULL
			WHERE id = $4 AND status = $5 AND claim_token = $6`
		args = []any{int16(status), stamp, opts.DestinationID,
			job.ID, int16(StatusProcessing), job.ClaimToken}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin update tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update job %d status: %w", job.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit update: %w", err)
	}

	job.Status = status
	job.Modified = &stamp
	job.ClaimToken = ""
	job.LastHeartbeat = nil
	if status == StatusProcessed {
		job.DestinationID = opts.DestinationID
		job.ExceptionMessage = ""
	} else if opts.ExceptionMessage != "" {
		job.ExceptionMessage = opts.ExceptionMessage
	}
	return true, nil
}

// Touch refreshes the heartbeat for a job the caller still holds.
func (s *PostgresStore) Touch(ctx context.Context, job *Job) (bool, error) {
	if job == nil || job.ID == 0 || job.ClaimToken == "" {
		return false, nil
	}
	stamp := s.now()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET last_heartbeat = $1 WHERE id = $2 AND status = $3 AND claim_token = $4`,
		stamp, job.ID, int16(StatusProcessing), job.ClaimToken,
	)
	if err != nil {
		return false, fmt.Errorf("touch job %d: %w", job.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	job.LastHeartbeat = &stamp
	return true, nil
}

// Purge deletes processed jobs created before cutoff.
func (s *PostgresStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE status = $1 AND created < $2`,
		int16(StatusProcessed), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge processed jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
