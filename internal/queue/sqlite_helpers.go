package queue

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// sqliteTimeLayout is fixed width so text comparison orders timestamps.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const jobColumns = "id, source_id, destination_id, created, modified, name, status, exception_message, attempts, claim_token, last_heartbeat"

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func scanSQLiteJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job           Job
		destinationID sql.NullInt64
		createdRaw    string
		modifiedRaw   sql.NullString
		name          sql.NullString
		exception     sql.NullString
		claimToken    sql.NullString
		heartbeatRaw  sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.SourceID,
		&destinationID,
		&createdRaw,
		&modifiedRaw,
		&name,
		&job.Status,
		&exception,
		&job.Attempts,
		&claimToken,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}
	if destinationID.Valid {
		value := destinationID.Int64
		job.DestinationID = &value
	}
	job.Name = name.String
	job.ExceptionMessage = exception.String
	job.ClaimToken = claimToken.String
	if created, err := parseTimeString(createdRaw); err == nil {
		job.Created = created
	}
	job.Modified = parseNullableTime(modifiedRaw)
	job.LastHeartbeat = parseNullableTime(heartbeatRaw)
	return &job, nil
}

func formatTime(value time.Time) string {
	return value.UTC().Format(sqliteTimeLayout)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(sqliteTimeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

func statusArgs(statuses []Status) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = int(status)
	}
	return args
}
