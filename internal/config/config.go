package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir" env:"MEDIARELAY_DATA_DIR"`
	LogDir   string `toml:"log_dir" env:"MEDIARELAY_LOG_DIR"`
	APIBind  string `toml:"api_bind" env:"MEDIARELAY_API_BIND"`
	APIToken string `toml:"api_token" env:"MEDIARELAY_API_TOKEN"`
}

// Store selects and configures the queue backend.
type Store struct {
	Driver           string `toml:"driver" env:"MEDIARELAY_STORE_DRIVER"`
	SQLitePath       string `toml:"sqlite_path" env:"MEDIARELAY_SQLITE_PATH"`
	PostgresDSN      string `toml:"postgres_dsn" env:"MEDIARELAY_POSTGRES_DSN"`
	PostgresHost     string `toml:"postgres_host" env:"DATABASE_HOST"`
	PostgresPort     int    `toml:"postgres_port" env:"DATABASE_PORT"`
	PostgresDatabase string `toml:"postgres_database" env:"DATABASE_NAME"`
	PostgresUser     string `toml:"postgres_user" env:"DATABASE_USERNAME"`
	PostgresPassword string `toml:"postgres_password" env:"DATABASE_PASSWORD"`
	MaxConns         int    `toml:"max_conns" env:"MEDIARELAY_STORE_MAX_CONNS"`
}

// Worker contains polling and claim settings for the relay worker.
type Worker struct {
	Name              string `toml:"name" env:"MEDIARELAY_WORKER_NAME"`
	PollInterval      int    `toml:"poll_interval" env:"MEDIARELAY_POLL_INTERVAL"`
	HeartbeatInterval int    `toml:"heartbeat_interval" env:"MEDIARELAY_HEARTBEAT_INTERVAL"`
	StaleClaimTimeout int    `toml:"stale_claim_timeout" env:"MEDIARELAY_STALE_CLAIM_TIMEOUT"`
	// MaxAttempts caps how many times an errored job is claimed. Zero means unlimited.
	MaxAttempts int `toml:"max_attempts" env:"MEDIARELAY_MAX_ATTEMPTS"`
}

// Retention controls the purge of processed jobs.
type Retention struct {
	DaysToKeep    int `toml:"days_to_keep" env:"MEDIARELAY_RETENTION_DAYS"`
	SweepInterval int `toml:"sweep_interval" env:"MEDIARELAY_SWEEP_INTERVAL"`
}

// Relay configures the delivery collaborator endpoint.
type Relay struct {
	BaseURL        string `toml:"base_url" env:"MEDIARELAY_RELAY_BASE_URL"`
	APIToken       string `toml:"api_token" env:"MEDIARELAY_RELAY_TOKEN"`
	RequestTimeout int    `toml:"request_timeout" env:"MEDIARELAY_RELAY_TIMEOUT"`
}

// Feed configures the AMQP discovery feed consumer.
type Feed struct {
	Enabled  bool   `toml:"enabled" env:"MEDIARELAY_FEED_ENABLED"`
	AMQPURL  string `toml:"amqp_url" env:"MEDIARELAY_AMQP_URL"`
	Queue    string `toml:"queue" env:"MEDIARELAY_FEED_QUEUE"`
	Prefetch int    `toml:"prefetch" env:"MEDIARELAY_FEED_PREFETCH"`
}

// Notifications configures ntfy alerts for failed jobs.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic" env:"MEDIARELAY_NTFY_TOPIC"`
	RequestTimeout int    `toml:"request_timeout" env:"MEDIARELAY_NTFY_TIMEOUT"`
}

// Metrics toggles the Prometheus endpoint.
type Metrics struct {
	Enabled bool `toml:"enabled" env:"MEDIARELAY_METRICS_ENABLED"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format" env:"MEDIARELAY_LOG_FORMAT"`
	Level         string `toml:"level" env:"MEDIARELAY_LOG_LEVEL"`
	RetentionDays int    `toml:"retention_days" env:"MEDIARELAY_LOG_RETENTION_DAYS"`
}

// Config encapsulates all configuration values for mediarelay.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Store: queue backend (sqlite or postgres)
//   - Worker: polling, heartbeat, and claim settings
//   - Retention: processed job purge policy
//   - Relay: delivery collaborator endpoint
//   - Feed: AMQP discovery feed
//   - Notifications: ntfy alerts
//   - Metrics: Prometheus endpoint
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Store         Store         `toml:"store"`
	Worker        Worker        `toml:"worker"`
	Retention     Retention     `toml:"retention"`
	Relay         Relay         `toml:"relay"`
	Feed          Feed          `toml:"feed"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. Environment
// overrides are applied after the file is decoded. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("mediarelay.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir}
	if c.Store.Driver == DriverSQLite && c.Store.SQLitePath != "" {
		dirs = append(dirs, filepath.Dir(c.Store.SQLitePath))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PostgresConnString returns the DSN used to open the Postgres store. An
// explicit postgres_dsn wins over the individual connection fields.
func (s Store) PostgresConnString() string {
	if dsn := strings.TrimSpace(s.PostgresDSN); dsn != "" {
		return dsn
	}
	if strings.TrimSpace(s.PostgresHost) == "" {
		return ""
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(s.PostgresHost, strconv.Itoa(s.PostgresPort)),
		Path:   "/" + s.PostgresDatabase,
	}
	if s.PostgresUser != "" {
		if s.PostgresPassword != "" {
			u.User = url.UserPassword(s.PostgresUser, s.PostgresPassword)
		} else {
			u.User = url.User(s.PostgresUser)
		}
	}
	return u.String()
}

// PollIntervalDuration returns the idle backoff between empty claims.
func (w Worker) PollIntervalDuration() time.Duration {
	return time.Duration(w.PollInterval) * time.Second
}

// HeartbeatIntervalDuration returns how often an in-flight claim is refreshed.
func (w Worker) HeartbeatIntervalDuration() time.Duration {
	return time.Duration(w.HeartbeatInterval) * time.Second
}

// StaleClaimDuration returns the age after which a processing claim may be reclaimed.
func (w Worker) StaleClaimDuration() time.Duration {
	return time.Duration(w.StaleClaimTimeout) * time.Second
}

// SweepIntervalDuration returns the retention sweep cadence. Zero disables scheduled sweeps.
func (r Retention) SweepIntervalDuration() time.Duration {
	return time.Duration(r.SweepInterval) * time.Second
}

// RequestTimeoutDuration returns the relay client timeout. Zero means no client-side timeout.
func (r Relay) RequestTimeoutDuration() time.Duration {
	return time.Duration(r.RequestTimeout) * time.Second
}

// RequestTimeoutDuration returns the ntfy request timeout.
func (n Notifications) RequestTimeoutDuration() time.Duration {
	return time.Duration(n.RequestTimeout) * time.Second
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "mediarelay.lock")
}

// PIDPath returns the daemon PID file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.LogDir, "mediarelay.pid")
}

// RetentionLockPath returns the host-wide retention sweep lock file.
func (c *Config) RetentionLockPath() string {
	return filepath.Join(c.Paths.DataDir, "retention.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
