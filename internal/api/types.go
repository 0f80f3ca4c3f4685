package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a queue entry in a transport-friendly format.
type Job struct {
	ID               int64  `json:"id"`
	SourceID         int64  `json:"sourceId"`
	DestinationID    *int64 `json:"destinationId,omitempty"`
	Name             string `json:"name"`
	Status           string `json:"status"`
	ExceptionMessage string `json:"exceptionMessage,omitempty"`
	Attempts         int    `json:"attempts"`
	CreatedAt        string `json:"createdAt,omitempty"`
	ModifiedAt       string `json:"modifiedAt,omitempty"`
	HeartbeatAt      string `json:"heartbeatAt,omitempty"`
}

// WorkerCounts mirrors worker.Counts.
type WorkerCounts struct {
	Claimed           int64 `json:"claimed"`
	Processed         int64 `json:"processed"`
	Errored           int64 `json:"errored"`
	DeletedFromSource int64 `json:"deletedFromSource"`
	OtherError        int64 `json:"otherError"`
	LostClaims        int64 `json:"lostClaims"`
}

// WorkerStatus summarizes the worker loop.
type WorkerStatus struct {
	Name       string         `json:"name"`
	Running    bool           `json:"running"`
	State      string         `json:"state"`
	StartedAt  string         `json:"startedAt,omitempty"`
	CurrentJob *Job           `json:"currentJob,omitempty"`
	LastJob    *Job           `json:"lastJob,omitempty"`
	LastError  string         `json:"lastError,omitempty"`
	Counts     WorkerCounts   `json:"counts"`
	QueueStats map[string]int `json:"queueStats"`
}

// RetentionStatus reports the latest retention sweep.
type RetentionStatus struct {
	DaysToKeep  int    `json:"daysToKeep"`
	LastSweepAt string `json:"lastSweepAt,omitempty"`
	Cutoff      string `json:"cutoff,omitempty"`
	Purged      int64  `json:"purged"`
	LogsRemoved int    `json:"logsRemoved"`
	Skipped     bool   `json:"skipped"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool            `json:"running"`
	PID           int             `json:"pid"`
	StoreDriver   string          `json:"storeDriver"`
	StoreLocation string          `json:"storeLocation"`
	LockFilePath  string          `json:"lockFilePath"`
	LogPath       string          `json:"logPath,omitempty"`
	FeedEnabled   bool            `json:"feedEnabled"`
	Worker        WorkerStatus    `json:"worker"`
	Retention     RetentionStatus `json:"retention"`
}

// QueueStatsResponse provides a normalized queue stats payload.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// EnqueueRequest is the body of POST /api/jobs.
type EnqueueRequest struct {
	SourceID  int64  `json:"sourceId"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// EnqueueResponse reports the result of an enqueue request.
type EnqueueResponse struct {
	Result string `json:"result"`
	Job    *Job   `json:"job,omitempty"`
}

// RemoveResponse reports whether a job was removed.
type RemoveResponse struct {
	Removed bool `json:"removed"`
}

// SweepResponse reports a manual retention sweep.
type SweepResponse struct {
	Retention RetentionStatus `json:"retention"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
