package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStore(); err != nil {
		return err
	}
	c.normalizeWorker()
	c.normalizeRelay()
	c.normalizeFeed()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizeStore() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Store.PostgresDSN = strings.TrimSpace(c.Store.PostgresDSN)
	c.Store.PostgresHost = strings.TrimSpace(c.Store.PostgresHost)
	if c.Store.Driver == "" {
		if c.Store.PostgresDSN != "" || c.Store.PostgresHost != "" {
			c.Store.Driver = DriverPostgres
		} else {
			c.Store.Driver = DriverSQLite
		}
	}
	if c.Store.PostgresPort <= 0 {
		c.Store.PostgresPort = defaultPostgresPort
	}
	if c.Store.MaxConns <= 0 {
		c.Store.MaxConns = defaultStoreMaxConns
	}
	if c.Store.Driver != DriverSQLite {
		return nil
	}
	if strings.TrimSpace(c.Store.SQLitePath) == "" {
		c.Store.SQLitePath = filepath.Join(c.Paths.DataDir, "queue.db")
	}
	var err error
	if c.Store.SQLitePath, err = expandPath(c.Store.SQLitePath); err != nil {
		return fmt.Errorf("store.sqlite_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorker() {
	c.Worker.Name = strings.TrimSpace(c.Worker.Name)
	if c.Worker.Name == "" {
		c.Worker.Name = defaultWorkerName
	}
}

func (c *Config) normalizeRelay() {
	c.Relay.BaseURL = strings.TrimRight(strings.TrimSpace(c.Relay.BaseURL), "/")
	c.Relay.APIToken = strings.TrimSpace(c.Relay.APIToken)
	if c.Relay.RequestTimeout < 0 {
		c.Relay.RequestTimeout = 0
	}
}

func (c *Config) normalizeFeed() {
	c.Feed.AMQPURL = strings.TrimSpace(c.Feed.AMQPURL)
	c.Feed.Queue = strings.TrimSpace(c.Feed.Queue)
	if c.Feed.Queue == "" {
		c.Feed.Queue = defaultFeedQueue
	}
	if c.Feed.Prefetch <= 0 {
		c.Feed.Prefetch = defaultFeedPrefetch
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
