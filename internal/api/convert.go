package api

import (
	"time"

	"mediarelay/internal/queue"
	"mediarelay/internal/retention"
	"mediarelay/internal/worker"
)

// FromJob converts a queue record to its API representation.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:               job.ID,
		SourceID:         job.SourceID,
		DestinationID:    job.DestinationID,
		Name:             job.Name,
		Status:           job.Status.String(),
		ExceptionMessage: job.ExceptionMessage,
		Attempts:         job.Attempts,
		CreatedAt:        formatTime(job.Created),
	}
	if job.Modified != nil {
		dto.ModifiedAt = formatTime(*job.Modified)
	}
	if job.LastHeartbeat != nil {
		dto.HeartbeatAt = formatTime(*job.LastHeartbeat)
	}
	return dto
}

// FromJobs converts a slice of queue records into API DTOs.
func FromJobs(jobs []*queue.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

func jobPtr(job *queue.Job) *Job {
	if job == nil {
		return nil
	}
	dto := FromJob(job)
	return &dto
}

// FromStatusSummary converts a worker snapshot.
func FromStatusSummary(summary worker.StatusSummary) WorkerStatus {
	return WorkerStatus{
		Name:       summary.Name,
		Running:    summary.Running,
		State:      string(summary.State),
		StartedAt:  formatTime(summary.Started),
		CurrentJob: jobPtr(summary.CurrentJob),
		LastJob:    jobPtr(summary.LastJob),
		LastError:  summary.LastError,
		Counts: WorkerCounts{
			Claimed:           summary.Counts.Claimed,
			Processed:         summary.Counts.Processed,
			Errored:           summary.Counts.Errored,
			DeletedFromSource: summary.Counts.DeletedFromSource,
			OtherError:        summary.Counts.OtherError,
			LostClaims:        summary.Counts.LostClaims,
		},
		QueueStats: StatsByName(summary.QueueStats),
	}
}

// FromSweepResult converts a retention result.
func FromSweepResult(daysToKeep int, result retention.Result) RetentionStatus {
	return RetentionStatus{
		DaysToKeep:  daysToKeep,
		LastSweepAt: formatTime(result.At),
		Cutoff:      formatTime(result.Cutoff),
		Purged:      result.Purged,
		LogsRemoved: result.LogsRemoved,
		Skipped:     result.Skipped,
	}
}

// StatsByName keys stats by status name and fills in missing statuses.
func StatsByName(stats map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(queue.AllStatuses()))
	for _, status := range queue.AllStatuses() {
		out[status.String()] = stats[status]
	}
	return out
}

// ParseTime accepts the timestamp formats clients send in requests.
func ParseTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse(dateTimeFormat, value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
