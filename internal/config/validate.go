package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validateRelay(); err != nil {
		return err
	}
	if err := c.validateFeed(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path must be set")
		}
	case DriverPostgres:
		if c.Store.PostgresConnString() == "" {
			return errors.New("store.postgres_dsn or store.postgres_host is required for the postgres driver (DATABASE_HOST is also accepted)")
		}
	default:
		return fmt.Errorf("store.driver: unsupported value %q (want %q or %q)", c.Store.Driver, DriverSQLite, DriverPostgres)
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.PollInterval <= 0 {
		return errors.New("worker.poll_interval must be positive")
	}
	if c.Worker.HeartbeatInterval <= 0 {
		return errors.New("worker.heartbeat_interval must be positive")
	}
	if c.Worker.StaleClaimTimeout <= c.Worker.HeartbeatInterval {
		return errors.New("worker.stale_claim_timeout must be greater than worker.heartbeat_interval")
	}
	if c.Worker.MaxAttempts < 0 {
		return errors.New("worker.max_attempts must be zero (unlimited) or positive")
	}
	return nil
}

func (c *Config) validateRetention() error {
	if c.Retention.DaysToKeep <= 0 {
		return errors.New("retention.days_to_keep must be positive")
	}
	if c.Retention.SweepInterval < 0 {
		return errors.New("retention.sweep_interval must be zero (disabled) or positive")
	}
	return nil
}

func (c *Config) validateRelay() error {
	if c.Relay.BaseURL == "" {
		return nil
	}
	parsed, err := url.Parse(c.Relay.BaseURL)
	if err != nil {
		return fmt.Errorf("relay.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("relay.base_url must use http or https, got %q", c.Relay.BaseURL)
	}
	return nil
}

func (c *Config) validateFeed() error {
	if !c.Feed.Enabled {
		return nil
	}
	if c.Feed.AMQPURL == "" {
		return errors.New("feed.amqp_url is required when feed.enabled is true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}
