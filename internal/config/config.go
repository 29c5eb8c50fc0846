package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	Workers  WorkersConfig  `mapstructure:"workers" validate:"required"`
	Backups  []BackupConfig `mapstructure:"backups" validate:"dive"`
}

// ServerConfig contains the HTTP monitor server settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// RedisConfig contains the connection settings for the durable log and
// monitor store backend.
type RedisConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

// DatabaseConfig contains Postgres settings used by built-in tasks that
// touch relational data (e.g. operation-log cleanup). The URL may be empty
// when no such task is registered.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// QueueConfig contains stream consumption tunables shared by all queue
// workers.
type QueueConfig struct {
	// MaxRetries is the global retry budget applied to consumers that do
	// not declare their own override.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0"`

	// BlockMs bounds each blocking group-read, in milliseconds.
	BlockMs int `mapstructure:"block_ms" validate:"gte=100"`

	// StreamMaxLen caps stream length on enqueue (approximate trim).
	// Zero disables trimming.
	StreamMaxLen int `mapstructure:"stream_max_len" validate:"gte=0"`
}

// WorkersConfig describes the process fleet the supervisor runs and the
// liveness reporting tunables shared by every worker.
type WorkersConfig struct {
	// QueueWorkers is the number of queue consumer processes to spawn.
	QueueWorkers int `mapstructure:"queue_workers" validate:"gte=0"`

	// PeriodicWorkers is the number of periodic scheduler processes to spawn.
	PeriodicWorkers int `mapstructure:"periodic_workers" validate:"gte=0"`

	// HeartbeatTTLSeconds is the expiry applied to worker heartbeat keys.
	// A worker whose heartbeat key has expired is considered dead.
	HeartbeatTTLSeconds int `mapstructure:"heartbeat_ttl_seconds" validate:"gte=10"`

	// LogCleanupIntervalSeconds is the execution interval of the built-in
	// operation-log cleanup task.
	LogCleanupIntervalSeconds int `mapstructure:"log_cleanup_interval_seconds" validate:"gte=30"`

	// LogRetentionDays is how long operation logs are kept before the
	// cleanup task removes them.
	LogRetentionDays int `mapstructure:"log_retention_days" validate:"gte=1"`
}

// BackupConfig declares one backup target for the built-in auto-scheduler.
// Targets are only configurable via config.yaml, not environment variables.
type BackupConfig struct {
	// Key uniquely identifies the target.
	Key string `mapstructure:"key" validate:"required"`

	// IntervalSeconds is the minimum spacing between automatic runs.
	IntervalSeconds int `mapstructure:"interval_seconds" validate:"gte=60"`
}
