package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"mediarelay/internal/config"
	"mediarelay/internal/daemon"
	"mediarelay/internal/ingest"
	"mediarelay/internal/logging"
	"mediarelay/internal/metrics"
	"mediarelay/internal/notifications"
	"mediarelay/internal/preflight"
	"mediarelay/internal/queue"
	"mediarelay/internal/relay"
	"mediarelay/internal/retention"
	"mediarelay/internal/worker"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the mediarelay daemon and blocks until a signal arrives or the
// worker stops on a fatal error. The latter is returned so the process exits
// non-zero.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("mediarelay-%s.log", runID))
	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update mediarelay.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "mediarelay-*.log", Exclude: []string{logPath}},
	)

	if err := runPreflight(signalCtx, cfg, logger); err != nil {
		return err
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := queue.Open(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}

	notifier := notifications.NewService(cfg)
	d, err := build(cfg, store, notifier, logger, logPath)
	if err != nil {
		store.Close()
		return err
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the daemon lock, api_bind, and queue database access"),
			logging.String(logging.FieldImpact, "no jobs are relayed"),
		)
		return err
	}

	select {
	case <-signalCtx.Done():
		logger.Info("mediarelay daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
		return nil
	case <-d.Done():
		if err := d.Err(); err != nil {
			logging.ErrorWithContext(logger, "worker stopped", "worker_fatal",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
				logging.String(logging.FieldImpact, "daemon exits; restart once the store is reachable"),
			)
			notifyCtx, cancelNotify := context.WithTimeout(context.Background(), 15*time.Second)
			if notifyErr := notifier.NotifyWorkerStopped(notifyCtx, err); notifyErr != nil {
				logger.Warn("worker stop notification failed", logging.Error(notifyErr))
			}
			cancelNotify()
			return fmt.Errorf("worker stopped: %w", err)
		}
		return nil
	}
}

// build wires the relay processor, metrics, alerts, and background services around store.
func build(cfg *config.Config, store queue.Store, notifier notifications.Service, logger *slog.Logger, logPath string) (*daemon.Daemon, error) {
	processor, err := relay.NewFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	var (
		workerOpts    = []worker.Option{worker.WithNotifier(notifier)}
		sweeperOpts   = []retention.Option{retention.WithActiveLogs(logPath)}
		producerRec   ingest.Recorder
		metricsHandle http.Handler
	)
	if cfg.Metrics.Enabled {
		collectors := metrics.New(store, logger)
		workerOpts = append(workerOpts, worker.WithRecorder(collectors))
		sweeperOpts = append(sweeperOpts, retention.WithRecorder(collectors))
		producerRec = collectors
		metricsHandle = collectors.Handler()
	}

	producer := ingest.NewProducer(store, logger, producerRec)
	parts := daemon.Components{
		Store:    store,
		Worker:   worker.NewManager(cfg, store, processor, logger, workerOpts...),
		Producer: producer,
		Sweeper:  retention.NewSweeper(cfg, store, logger, sweeperOpts...),
		Metrics:  metricsHandle,
	}
	if cfg.Feed.Enabled {
		parts.Feed = ingest.NewFeed(cfg.Feed, producer, logger)
	}

	d, err := daemon.New(cfg, parts, logger, logPath)
	if err != nil {
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	return d, nil
}

func runPreflight(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	results := preflight.RunAll(ctx, cfg)
	for _, r := range results {
		if r.Passed {
			logger.Info("preflight check passed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.Bool("required", r.Required),
		)
	}
	blocking := preflight.Blocking(results)
	if len(blocking) == 0 {
		return nil
	}
	names := make([]string, 0, len(blocking))
	for _, r := range blocking {
		names = append(names, fmt.Sprintf("%s: %s", r.Name, r.Detail))
	}
	return errors.New("preflight failed: " + strings.Join(names, "; "))
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "mediarelay.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
