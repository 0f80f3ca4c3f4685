package worker

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mediarelay/internal/config"
	"mediarelay/internal/logging"
	"mediarelay/internal/queue"
	"mediarelay/internal/relay"
)

const (
	defaultPollInterval      = 10 * time.Second
	defaultHeartbeatInterval = 15 * time.Second
)

// Recorder receives loop events for metrics. metrics.Collectors implements it.
type Recorder interface {
	JobClaimed()
	JobFinalized(status queue.Status)
	DelegationObserved(outcome string, elapsed time.Duration)
}

// Notifier receives alerts for jobs that will not be retried automatically.
type Notifier interface {
	NotifyJobFailed(ctx context.Context, job *queue.Job, status queue.Status) error
}

type nopRecorder struct{}

func (nopRecorder) JobClaimed() {}

func (nopRecorder) JobFinalized(queue.Status) {}

func (nopRecorder) DelegationObserved(string, time.Duration) {}

// Manager owns the worker loop for one process.
type Manager struct {
	name              string
	store             queue.Store
	processor         relay.Processor
	logger            *slog.Logger
	recorder          Recorder
	notifier          Notifier
	maxAttempts       int
	pollInterval      time.Duration
	heartbeatInterval time.Duration

	mu       sync.RWMutex
	running  bool
	state    State
	cancel   context.CancelFunc
	done     chan struct{}
	fatalErr error
	lastErr  error
	current  *queue.Job
	lastJob  *queue.Job
	counts   Counts
	started  time.Time
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithRecorder wires loop events into metrics.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithNotifier sends alerts for OtherError jobs and exhausted retries.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithPollInterval overrides the idle backoff.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithHeartbeatInterval overrides how often a held claim is refreshed.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.heartbeatInterval = d
		}
	}
}

// NewManager constructs a worker for store and processor using the [worker]
// settings from cfg.
func NewManager(cfg *config.Config, store queue.Store, processor relay.Processor, logger *slog.Logger, opts ...Option) *Manager {
	name := "relay"
	m := &Manager{
		store:             store,
		processor:         processor,
		recorder:          nopRecorder{},
		pollInterval:      defaultPollInterval,
		heartbeatInterval: defaultHeartbeatInterval,
		state:             StateStopped,
	}
	if cfg != nil {
		if n := strings.TrimSpace(cfg.Worker.Name); n != "" {
			name = n
		}
		if d := cfg.Worker.PollIntervalDuration(); d > 0 {
			m.pollInterval = d
		}
		if d := cfg.Worker.HeartbeatIntervalDuration(); d > 0 {
			m.heartbeatInterval = d
		}
		m.maxAttempts = cfg.Worker.MaxAttempts
	}
	m.name = name
	m.logger = logging.NewComponentLogger(logger, "worker").With(logging.String("worker", name))
	for _, opt := range opts {
		opt(m)
	}
	return m
}
