package testsupport

import (
	"path/filepath"
	"testing"

	"mediarelay/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Store.Driver = config.DriverSQLite
	cfgVal.Store.SQLitePath = filepath.Join(base, "data", "queue.db")
	cfgVal.Worker.PollInterval = 1
	cfgVal.Metrics.Enabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithRelayURL points the relay client at baseURL.
func WithRelayURL(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Relay.BaseURL = baseURL
	}
}

// WithMaxAttempts caps errored job retries.
func WithMaxAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.MaxAttempts = n
	}
}

// WithPostgres switches the store to postgres using dsn.
func WithPostgres(dsn string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Store.Driver = config.DriverPostgres
		b.cfg.Store.PostgresDSN = dsn
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
