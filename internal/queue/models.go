package queue

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the persisted job state. Values are stored as integers and must
// not be renumbered.
type Status int

const (
	StatusQueued            Status = 0
	StatusProcessing        Status = 1
	StatusErrored           Status = 2
	StatusProcessed         Status = 3
	StatusDeletedFromSource Status = 4
	StatusOtherError        Status = 5
)

var allStatuses = []Status{
	StatusQueued,
	StatusProcessing,
	StatusErrored,
	StatusProcessed,
	StatusDeletedFromSource,
	StatusOtherError,
}

var statusNames = map[Status]string{
	StatusQueued:            "queued",
	StatusProcessing:        "processing",
	StatusErrored:           "errored",
	StatusProcessed:         "processed",
	StatusDeletedFromSource: "deleted_from_source",
	StatusOtherError:        "other_error",
}

// claimableStatuses is the explicit set ClaimNext selects from.
var claimableStatuses = map[Status]struct{}{
	StatusQueued:     {},
	StatusProcessing: {},
	StatusErrored:    {},
}

// finalStatuses are the statuses UpdateStatus may write.
var finalStatuses = map[Status]struct{}{
	StatusErrored:           {},
	StatusProcessed:         {},
	StatusDeletedFromSource: {},
	StatusOtherError:        {},
}

// AllStatuses returns every known status in numeric order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

// Claimable reports whether ClaimNext may select a job in this status.
func (s Status) Claimable() bool {
	_, ok := claimableStatuses[s]
	return ok
}

// Terminal reports whether no further automatic transition happens.
func (s Status) Terminal() bool {
	switch s {
	case StatusProcessed, StatusDeletedFromSource, StatusOtherError:
		return true
	default:
		return false
	}
}

// ParseStatus converts a status name or its numeric value.
func ParseStatus(value string) (Status, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	trimmed = strings.ReplaceAll(trimmed, "-", "_")
	for status, name := range statusNames {
		if name == trimmed {
			return status, nil
		}
	}
	if n, err := strconv.Atoi(trimmed); err == nil {
		if _, ok := statusNames[Status(n)]; ok {
			return Status(n), nil
		}
	}
	return 0, fmt.Errorf("unknown job status %q", value)
}

// Job is one discovered source item awaiting or having completed relay.
type Job struct {
	ID               int64
	SourceID         int64
	DestinationID    *int64
	Created          time.Time
	Modified         *time.Time
	Name             string
	Status           Status
	ExceptionMessage string

	// Attempts counts how many times the job has been claimed.
	Attempts int
	// ClaimToken identifies the current claim. UpdateStatus and Touch only
	// succeed for the holder of this token.
	ClaimToken    string
	LastHeartbeat *time.Time
}

// Valid reports whether the job may be persisted: a non-zero source ID and a
// non-blank name.
func (j *Job) Valid() bool {
	return j != nil && j.SourceID != 0 && strings.TrimSpace(j.Name) != ""
}

// UpdateOptions carries the optional values written alongside a status change.
type UpdateOptions struct {
	// DestinationID is recorded when the job moves to Processed.
	DestinationID *int64
	// ExceptionMessage is recorded on non-processed transitions when non-empty.
	ExceptionMessage string
}

// HealthSummary aggregates job counts per status.
type HealthSummary struct {
	Total             int
	Queued            int
	Processing        int
	Errored           int
	Processed         int
	DeletedFromSource int
	OtherError        int
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	Driver           string
	Location         string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	TableExists      bool
	TotalJobs        int
	Error            string
}

func summarize(stats map[Status]int) HealthSummary {
	var health HealthSummary
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusQueued:
			health.Queued += count
		case StatusProcessing:
			health.Processing += count
		case StatusErrored:
			health.Errored += count
		case StatusProcessed:
			health.Processed += count
		case StatusDeletedFromSource:
			health.DeletedFromSource += count
		case StatusOtherError:
			health.OtherError += count
		}
	}
	return health
}
