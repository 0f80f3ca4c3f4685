package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"mediarelay/internal/api"
	"mediarelay/internal/config"
	"mediarelay/internal/ingest"
	"mediarelay/internal/logging"
	"mediarelay/internal/queue"
	"mediarelay/internal/retention"
	"mediarelay/internal/worker"
)

// Components are the services the daemon runs. Feed and Metrics are optional.
type Components struct {
	Store    queue.Store
	Worker   *worker.Manager
	Producer *ingest.Producer
	Sweeper  *retention.Sweeper
	Feed     *ingest.Feed
	Metrics  http.Handler
}

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	parts   Components
	logPath string

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	bg      sync.WaitGroup
	api     *api.Server
}

// New constructs a daemon. logPath is reported in status and may be empty.
func New(cfg *config.Config, parts Components, logger *slog.Logger, logPath string) (*Daemon, error) {
	if cfg == nil || parts.Store == nil || parts.Worker == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, worker, and logger")
	}
	if parts.Producer == nil {
		parts.Producer = ingest.NewProducer(parts.Store, logger, nil)
	}
	if parts.Sweeper == nil {
		parts.Sweeper = retention.NewSweeper(cfg, parts.Store, logger)
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		parts:    parts,
		logPath:  logPath,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the worker, sweeper, feed, and API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := d.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another mediarelay daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.parts.Worker.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start worker: %w", err)
	}

	if bind := strings.TrimSpace(d.cfg.Paths.APIBind); bind != "" {
		server := api.NewServer(bind, api.NewRouter(api.Options{
			Store:      d.parts.Store,
			Producer:   d.parts.Producer,
			Status:     d.Status,
			Sweeper:    d.parts.Sweeper,
			DaysToKeep: d.cfg.Retention.DaysToKeep,
			Metrics:    d.parts.Metrics,
			Token:      d.cfg.Paths.APIToken,
			Logger:     d.logger,
		}), d.logger)
		if err := server.Start(runCtx); err != nil {
			cancel()
			d.parts.Worker.Stop()
			_ = d.lock.Unlock()
			return err
		}
		d.api = server
	}

	d.goBackground(func() {
		_ = d.parts.Sweeper.Run(runCtx)
	})
	if d.parts.Feed != nil {
		d.goBackground(func() {
			if err := d.parts.Feed.Run(runCtx); err != nil {
				logging.ErrorWithContext(d.logger, "discovery feed stopped", "feed_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "set feed.amqp_url and feed.queue or disable the feed"),
					logging.String(logging.FieldImpact, "new items must be enqueued through the API or CLI"),
				)
			}
		})
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("mediarelay daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

func (d *Daemon) goBackground(fn func()) {
	d.bg.Add(1)
	go func() {
		defer d.bg.Done()
		fn()
	}()
}

// Stop cancels background services, waits for the in-flight job to be
// finalized, and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.parts.Worker.Stop()
	d.bg.Wait()
	if d.api != nil {
		d.api.Stop()
		d.api = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("mediarelay daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and closes the queue store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.parts.Store.Close()
}

// Done is closed when the worker loop exits, either after Stop or on a
// fatal error. It is nil before Start.
func (d *Daemon) Done() <-chan struct{} {
	return d.parts.Worker.Done()
}

// Err returns the fatal worker error, if any.
func (d *Daemon) Err() error {
	return d.parts.Worker.Err()
}

// APIAddr returns the bound API address, or "" when the API is disabled.
func (d *Daemon) APIAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.api == nil {
		return ""
	}
	return d.api.Addr()
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	return api.DaemonStatus{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		StoreDriver:   d.cfg.Store.Driver,
		StoreLocation: storeLocation(d.cfg),
		LockFilePath:  d.lockPath,
		LogPath:       d.logPath,
		FeedEnabled:   d.parts.Feed != nil,
		Worker:        api.FromStatusSummary(d.parts.Worker.Status(ctx)),
		Retention:     api.FromSweepResult(d.cfg.Retention.DaysToKeep, d.parts.Sweeper.Last()),
	}
}

// storeLocation describes the store without exposing credentials.
func storeLocation(cfg *config.Config) string {
	if cfg.Store.Driver == config.DriverPostgres {
		host := strings.TrimSpace(cfg.Store.PostgresHost)
		if host == "" {
			return "postgres (dsn)"
		}
		return fmt.Sprintf("postgres://%s:%d/%s", host, cfg.Store.PostgresPort, cfg.Store.PostgresDatabase)
	}
	return cfg.Store.SQLitePath
}
