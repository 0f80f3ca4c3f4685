package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"mediarelay/internal/logging"
	"mediarelay/internal/queue"
)

// heartbeatLoop refreshes job's claim every heartbeatInterval until ctx ends.
// It stops early once the store reports the claim is no longer held.
func (m *Manager) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, job *queue.Job) {
	defer wg.Done()
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, m.logger).With(logging.String(logging.FieldComponent, "worker-heartbeat"))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := m.store.Touch(ctx, job)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("heartbeat update failed", logging.Error(err))
				continue
			}
			if !held {
				logging.WarnWithContext(logger, "claim no longer held; heartbeat stopped", "heartbeat_lost",
					logging.String(logging.FieldErrorHint, "delegation outlived stale_claim_timeout"),
					logging.String(logging.FieldImpact, "another worker may be relaying the same item"),
				)
				return
			}
		}
	}
}
