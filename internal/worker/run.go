package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mediarelay/internal/logging"
)

// Run processes jobs until ctx is cancelled or the store fails while no job
// is held. Cancellation is observed between jobs and during the idle wait; a
// delegation already in flight runs to completion and is finalized.
func (m *Manager) Run(ctx context.Context) error {
	if m.store == nil || m.processor == nil {
		return errors.New("worker requires a store and a processor")
	}
	m.logger.Info("worker loop started",
		logging.String(logging.FieldEventType, "worker_started"),
		logging.Duration("poll_interval", m.pollInterval),
		logging.Duration("heartbeat_interval", m.heartbeatInterval),
	)
	defer m.setState(StateStopped)

	for {
		if ctx.Err() != nil {
			m.logger.Info("worker loop stopped", logging.String(logging.FieldEventType, "worker_stopped"))
			return nil
		}

		m.setState(StateClaiming)
		job, err := m.store.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wrapped := fmt.Errorf("claim next job: %w", err)
			m.setLastError(wrapped)
			logging.ErrorWithContext(m.logger, "claim failed; stopping worker", "claim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			return wrapped
		}
		if job == nil {
			m.setState(StateIdle)
			m.waitForWorkOrShutdown(ctx)
			continue
		}

		m.processJob(ctx, job)
	}
}

func (m *Manager) waitForWorkOrShutdown(ctx context.Context) {
	timer := time.NewTimer(m.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Start runs the loop in the background. A fatal loop error is available
// from Err once Done is closed.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.running = true
	m.fatalErr = nil
	m.started = time.Now()
	m.mu.Unlock()

	go func() {
		err := m.Run(runCtx)
		m.mu.Lock()
		m.fatalErr = err
		m.running = false
		m.mu.Unlock()
		close(done)
	}()
	return nil
}

// Stop cancels the loop and waits for the current job to be finalized.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when a started loop exits. It is nil before Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Err returns the error that ended the loop, or nil after a clean stop.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fatalErr
}
