package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"mediarelay/internal/config"
	"mediarelay/internal/logging"
	"mediarelay/internal/queue"
)

const defaultDaysToKeep = 30

// Recorder receives purge counts for metrics.
type Recorder interface {
	JobsPurged(n int64)
}

// Result summarizes one sweep.
type Result struct {
	At          time.Time
	Cutoff      time.Time
	Purged      int64
	LogsRemoved int
	// Skipped is set when another process held the sweep lock.
	Skipped bool
}

// Sweeper deletes Processed jobs created before now minus DaysToKeep.
type Sweeper struct {
	store            queue.Store
	daysToKeep       int
	interval         time.Duration
	lock             *flock.Flock
	logDir           string
	logRetentionDays int
	activeLogs       []string
	logger           *slog.Logger
	recorder         Recorder
	now              func() time.Time

	mu   sync.Mutex
	last Result
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithRecorder reports purge counts to metrics.
func WithRecorder(r Recorder) Option {
	return func(s *Sweeper) {
		s.recorder = r
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithActiveLogs protects the given log files from pruning.
func WithActiveLogs(paths ...string) Option {
	return func(s *Sweeper) {
		s.activeLogs = append(s.activeLogs, paths...)
	}
}

// NewSweeper builds a sweeper from the [retention] and [logging] settings.
func NewSweeper(cfg *config.Config, store queue.Store, logger *slog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:            store,
		daysToKeep:       cfg.Retention.DaysToKeep,
		interval:         cfg.Retention.SweepIntervalDuration(),
		lock:             flock.New(cfg.RetentionLockPath()),
		logDir:           cfg.Paths.LogDir,
		logRetentionDays: cfg.Logging.RetentionDays,
		logger:           logging.NewComponentLogger(logger, "retention"),
		now:              time.Now,
	}
	if s.daysToKeep <= 0 {
		s.daysToKeep = defaultDaysToKeep
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep purges once. It returns a skipped result without error when another
// process is sweeping.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	now := s.now()
	result := Result{At: now, Cutoff: now.AddDate(0, 0, -s.daysToKeep)}

	locked, err := s.lock.TryLock()
	if err != nil {
		return result, fmt.Errorf("acquire retention lock: %w", err)
	}
	if !locked {
		result.Skipped = true
		s.logger.Info("retention sweep skipped; another process holds the lock",
			logging.String(logging.FieldEventType, "retention_skipped"),
			logging.String("lock", s.lock.Path()),
		)
		s.remember(result)
		return result, nil
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("failed to release retention lock", logging.Error(err))
		}
	}()

	purged, err := s.store.Purge(ctx, result.Cutoff)
	if err != nil {
		return result, fmt.Errorf("purge processed jobs: %w", err)
	}
	result.Purged = purged
	if s.recorder != nil {
		s.recorder.JobsPurged(purged)
	}

	if s.logDir != "" {
		result.LogsRemoved = logging.CleanupOldLogs(s.logger, s.logRetentionDays, logging.RetentionTarget{
			Dir:     s.logDir,
			Pattern: "mediarelay-*.log",
			Exclude: s.activeLogs,
		})
	}

	s.logger.Info("retention sweep complete",
		logging.String(logging.FieldEventType, "retention_sweep"),
		logging.Time("cutoff", result.Cutoff),
		logging.Int64("purged", result.Purged),
		logging.Int("logs_removed", result.LogsRemoved),
	)
	s.remember(result)
	return result, nil
}

// Run sweeps immediately and then every sweep interval until ctx is done. A
// zero interval disables scheduled sweeps.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("scheduled retention disabled", logging.String(logging.FieldEventType, "retention_disabled"))
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(s.logger, "retention sweep failed", "retention_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
				logging.String(logging.FieldImpact, "processed jobs are kept until the next sweep"),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Last returns the most recent sweep result.
func (s *Sweeper) Last() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Sweeper) remember(result Result) {
	s.mu.Lock()
	s.last = result
	s.mu.Unlock()
}
