package config

const (
	defaultConfigPath             = "~/.config/mediarelay/config.toml"
	defaultDataDir                = "~/.local/share/mediarelay"
	defaultLogDir                 = "~/.local/share/mediarelay/logs"
	defaultAPIBind                = "127.0.0.1:7488"
	defaultPostgresPort           = 5432
	defaultStoreMaxConns          = 4
	defaultWorkerName             = "relay"
	defaultPollInterval           = 10
	defaultHeartbeatInterval      = 15
	defaultStaleClaimTimeout      = 300
	defaultRetentionDays          = 30
	defaultRetentionSweepInterval = 3600
	defaultRelayRequestTimeout    = 900
	defaultFeedQueue              = "mediarelay.discovered"
	defaultFeedPrefetch           = 16
	defaultNtfyRequestTimeout     = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 60
)

// Supported queue store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Store: Store{
			PostgresPort: defaultPostgresPort,
			MaxConns:     defaultStoreMaxConns,
		},
		Worker: Worker{
			Name:              defaultWorkerName,
			PollInterval:      defaultPollInterval,
			HeartbeatInterval: defaultHeartbeatInterval,
			StaleClaimTimeout: defaultStaleClaimTimeout,
		},
		Retention: Retention{
			DaysToKeep:    defaultRetentionDays,
			SweepInterval: defaultRetentionSweepInterval,
		},
		Relay: Relay{
			RequestTimeout: defaultRelayRequestTimeout,
		},
		Feed: Feed{
			Queue:    defaultFeedQueue,
			Prefetch: defaultFeedPrefetch,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
		},
		Metrics: Metrics{
			Enabled: true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
