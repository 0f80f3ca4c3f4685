package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediarelay/internal/logging"
	"mediarelay/internal/queue"
	"mediarelay/internal/relay"
	"mediarelay/internal/services"
)

// processJob delegates a claimed job and records the outcome. It never
// returns an error: anything that goes wrong while the job is held ends up as
// Errored (or, if the store is unreachable, is left for stale reclaim).
func (m *Manager) processJob(parent context.Context, job *queue.Job) {
	// Delegation and finalization outlive cancellation of the loop.
	ctx := context.WithoutCancel(parent)
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithSourceID(ctx, job.SourceID)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, m.logger)

	m.setCurrent(job)
	m.recorder.JobClaimed()
	logger.Info("job claimed",
		logging.String(logging.FieldEventType, "job_claimed"),
		logging.String("name", job.Name),
		logging.Int("attempt", job.Attempts),
	)

	m.setState(StateDelegating)
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go m.heartbeatLoop(hbCtx, &wg, job)

	start := time.Now()
	result, procErr := m.delegate(ctx, job)
	elapsed := time.Since(start)
	stopHeartbeat()
	wg.Wait()

	status, opts := mapOutcome(result, procErr)
	outcome := status.String()
	if procErr != nil {
		outcome = "error"
	}
	m.recorder.DelegationObserved(outcome, elapsed)

	m.setState(StateFinalizing)
	updated, err := m.store.UpdateStatus(ctx, job, status, opts)
	if err != nil && status != queue.StatusErrored {
		// The job is still held, so the failed write is recorded as Errored.
		logging.WarnWithContext(logger, "failed to record job outcome; marking errored", "job_finalize_fallback",
			logging.Error(err),
			logging.String("status", status.String()),
			logging.Alert("finalize_fallback"),
		)
		procErr = fmt.Errorf("record %s outcome: %w", status, err)
		status = queue.StatusErrored
		opts = queue.UpdateOptions{ExceptionMessage: errorMessage(procErr)}
		updated, err = m.store.UpdateStatus(ctx, job, status, opts)
	}
	if err != nil {
		m.setLastError(err)
		logging.ErrorWithContext(logger, "failed to record job outcome", "job_finalize_failed",
			logging.Error(err),
			logging.String("status", status.String()),
			logging.String(logging.FieldErrorHint, "job will be reclaimed after the stale claim timeout"),
		)
		m.finishCurrent(job, status, false)
		return
	}
	if !updated {
		logging.WarnWithContext(logger, "claim lost before outcome was recorded", "claim_lost",
			logging.String("status", status.String()),
			logging.String(logging.FieldErrorHint, "another worker reclaimed this job; raise stale_claim_timeout if delegation is slow"),
			logging.String(logging.FieldImpact, "the job may be delivered twice"),
			logging.Alert("duplicate_delivery"),
		)
		m.finishCurrent(job, status, false)
		return
	}

	m.recorder.JobFinalized(status)
	m.finishCurrent(job, status, true)
	if m.needsAlert(job, status) {
		m.alert(ctx, logger, job, status)
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "job_finalized"),
		logging.String("status", status.String()),
		logging.Duration("elapsed", elapsed),
	}
	if job.DestinationID != nil {
		attrs = append(attrs, logging.Int64(logging.FieldDestinationID, *job.DestinationID))
	}
	if status == queue.StatusErrored {
		if procErr == nil {
			procErr = errors.New(opts.ExceptionMessage)
		}
		m.setLastError(procErr)
		attrs = append(attrs,
			logging.String("error_kind", services.Kind(procErr)),
			logging.String("error_message", opts.ExceptionMessage),
		)
		logger.Warn("job errored; it will be retried", logging.Args(attrs...)...)
		return
	}
	logger.Info("job finalized", logging.Args(attrs...)...)
}

// needsAlert reports whether job has left automatic retry: OtherError, or
// Errored with every allowed attempt spent.
func (m *Manager) needsAlert(job *queue.Job, status queue.Status) bool {
	if m.notifier == nil {
		return false
	}
	switch status {
	case queue.StatusOtherError:
		return true
	case queue.StatusErrored:
		return m.maxAttempts > 0 && job.Attempts >= m.maxAttempts
	default:
		return false
	}
}

func (m *Manager) alert(ctx context.Context, logger *slog.Logger, job *queue.Job, status queue.Status) {
	notifyCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := m.notifier.NotifyJobFailed(notifyCtx, job, status); err != nil {
		logging.WarnWithContext(logger, "job failure notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}

// delegate calls the processor, converting a panic into an error.
func (m *Manager) delegate(ctx context.Context, job *queue.Job) (result relay.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(logging.WithContext(ctx, m.logger), "processor panicked", "processor_panic",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return m.processor.Process(ctx, job.SourceID)
}

// mapOutcome turns a processor answer into the status to record.
func mapOutcome(result relay.Result, procErr error) (queue.Status, queue.UpdateOptions) {
	if procErr != nil {
		return queue.StatusErrored, queue.UpdateOptions{ExceptionMessage: errorMessage(procErr)}
	}
	message := strings.TrimSpace(result.Message)
	switch result.Outcome {
	case relay.OutcomeProcessed:
		if result.DestinationID == nil {
			return queue.StatusErrored, queue.UpdateOptions{ExceptionMessage: "processed without a destination id"}
		}
		return queue.StatusProcessed, queue.UpdateOptions{DestinationID: result.DestinationID}
	case relay.OutcomeDeletedFromSource:
		return queue.StatusDeletedFromSource, queue.UpdateOptions{ExceptionMessage: message}
	case relay.OutcomeOtherError:
		return queue.StatusOtherError, queue.UpdateOptions{ExceptionMessage: message}
	default:
		return queue.StatusErrored, queue.UpdateOptions{ExceptionMessage: fmt.Sprintf("unknown relay outcome %s", result.Outcome)}
	}
}

func errorMessage(err error) string {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		return "relay failed without error detail"
	}
	return message
}
