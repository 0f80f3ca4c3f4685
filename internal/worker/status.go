package worker

import (
	"context"
	"time"

	"mediarelay/internal/logging"
	"mediarelay/internal/queue"
)

// State is the loop position reported in status snapshots.
type State string

const (
	StateStopped    State = "stopped"
	StateIdle       State = "idle"
	StateClaiming   State = "claiming"
	StateDelegating State = "delegating"
	StateFinalizing State = "finalizing"
)

// Counts tallies loop activity since the manager started.
type Counts struct {
	Claimed           int64
	Processed         int64
	Errored           int64
	DeletedFromSource int64
	OtherError        int64
	LostClaims        int64
}

// StatusSummary is a point-in-time view of the worker.
type StatusSummary struct {
	Name       string
	Running    bool
	State      State
	Started    time.Time
	CurrentJob *queue.Job
	LastJob    *queue.Job
	LastError  string
	Counts     Counts
	QueueStats map[queue.Status]int
}

// Status returns the latest worker information along with queue counts.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Name:       m.name,
		Running:    m.running,
		State:      m.state,
		Started:    m.started,
		CurrentJob: copyJob(m.current),
		LastJob:    copyJob(m.lastJob),
		Counts:     m.counts,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.QueueStats = stats
	return summary
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setCurrent(job *queue.Job) {
	m.mu.Lock()
	m.current = copyJob(job)
	if job != nil {
		m.counts.Claimed++
	}
	m.mu.Unlock()
}

func (m *Manager) finishCurrent(job *queue.Job, status queue.Status, updated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
	m.lastJob = copyJob(job)
	if !updated {
		m.counts.LostClaims++
		return
	}
	switch status {
	case queue.StatusProcessed:
		m.counts.Processed++
	case queue.StatusErrored:
		m.counts.Errored++
	case queue.StatusDeletedFromSource:
		m.counts.DeletedFromSource++
	case queue.StatusOtherError:
		m.counts.OtherError++
	}
}

func copyJob(job *queue.Job) *queue.Job {
	if job == nil {
		return nil
	}
	clone := *job
	return &clone
}
