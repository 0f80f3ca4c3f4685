package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mediarelay/internal/config"
	"mediarelay/internal/logging"
)

// Store is the durable job queue shared by producers and workers.
type Store interface {
	// Enqueue inserts job when it is valid and its source ID is new. It
	// reports whether a row was created; invalid or duplicate jobs return
	// false without error.
	Enqueue(ctx context.Context, job *Job) (bool, error)
	// ClaimNext atomically moves the oldest eligible job to Processing and
	// returns it, or returns nil when nothing is eligible or another
	// claimant won the race.
	ClaimNext(ctx context.Context) (*Job, error)
	// UpdateStatus records the outcome of a claim. It returns false without
	// error when job is invalid or the claim is no longer current. Processed
	// requires a destination id and clears any earlier exception message.
	UpdateStatus(ctx context.Context, job *Job, status Status, opts UpdateOptions) (bool, error)
	// Touch refreshes the heartbeat of a held claim.
	Touch(ctx context.Context, job *Job) (bool, error)
	// Purge deletes processed jobs created before cutoff.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)

	GetByID(ctx context.Context, id int64) (*Job, error)
	GetBySourceID(ctx context.Context, sourceID int64) (*Job, error)
	List(ctx context.Context, statuses ...Status) ([]*Job, error)
	Remove(ctx context.Context, id int64) (bool, error)
	ClearErrored(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (map[Status]int, error)
	Health(ctx context.Context) (HealthSummary, error)
	CheckHealth(ctx context.Context) (DatabaseHealth, error)
	Close() error
}

const defaultStaleClaimTimeout = 5 * time.Minute

// Options tunes claim eligibility and store plumbing.
type Options struct {
	// StaleClaimTimeout is how long a Processing job may go without a
	// heartbeat before another worker can claim it.
	StaleClaimTimeout time.Duration
	// MaxAttempts excludes Errored jobs claimed this many times. Zero means unlimited.
	MaxAttempts int
	// MaxConns bounds the connection pool where the backend supports it.
	MaxConns int
	// Clock overrides time.Now for tests.
	Clock  func() time.Time
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.StaleClaimTimeout <= 0 {
		o.StaleClaimTimeout = defaultStaleClaimTimeout
	}
	if o.MaxAttempts < 0 {
		o.MaxAttempts = 0
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	o.Logger = logging.NewComponentLogger(o.Logger, "queue")
	return o
}

// OptionsFromConfig derives store options from the worker configuration.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		StaleClaimTimeout: cfg.Worker.StaleClaimDuration(),
		MaxAttempts:       cfg.Worker.MaxAttempts,
		MaxConns:          cfg.Store.MaxConns,
		Logger:            logger,
	}
}

// Open connects to the store selected by cfg.Store.Driver.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("open queue store: config is required")
	}
	opts := OptionsFromConfig(cfg, logger)
	switch cfg.Store.Driver {
	case config.DriverSQLite, "":
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
		return OpenSQLite(ctx, cfg.Store.SQLitePath, opts)
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg.Store.PostgresConnString(), opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Store.Driver)
	}
}

// stampAfter returns now, raised to created when the clock reads earlier so
// modified never precedes created.
func stampAfter(now, created time.Time) time.Time {
	if now.Before(created) {
		return created
	}
	return now
}
