package worker

import (
	"errors"
	"time"

	"github.com/qhse-systems/qhse-outbox/internal/config"
)

// Default poll/retry tuning, overridable via environment.
const (
	DefaultOutboxBatchSize      = 10
	DefaultOutboxLockTimeoutSec = 30
	DefaultOutboxMaxAttempts    = 5
	DefaultPollInterval         = 1 * time.Second
	DefaultMetricsPort          = 9100
)

// ErrEmptyDatabaseURL is returned by Validate when no database connection
// string has been configured.
var ErrEmptyDatabaseURL = errors.New("worker config: DATABASE_URL must not be empty")

// Config holds worker process tuning, loaded from environment variables so
// the worker can be deployed and scaled independently of the API process.
type Config struct {
	DatabaseURL     string
	WorkerID        string
	BatchSize       int
	LockTimeout     time.Duration
	MaxAttempts     int
	PollInterval    time.Duration
	MetricsPort     int
	MigrationsTable string
	MigrationsPath  string
	Env             string
}

// LoadConfig reads worker configuration from the environment, falling back
// to the documented defaults for anything unset.
func LoadConfig() *Config {
	return &Config{
		DatabaseURL:     config.GetEnvStr("DATABASE_URL", ""),
		WorkerID:        config.GetEnvStr("WORKER_ID", "worker"),
		BatchSize:       config.GetEnvInt("OUTBOX_BATCH_SIZE", DefaultOutboxBatchSize),
		LockTimeout:     time.Duration(config.GetEnvInt("OUTBOX_LOCK_TIMEOUT_SEC", DefaultOutboxLockTimeoutSec)) * time.Second,
		MaxAttempts:     config.GetEnvInt("OUTBOX_MAX_ATTEMPTS", DefaultOutboxMaxAttempts),
		PollInterval:    config.GetEnvDuration("WORKER_POLL_INTERVAL", DefaultPollInterval),
		MetricsPort:     config.GetEnvInt("WORKER_METRICS_PORT", DefaultMetricsPort),
		MigrationsTable: config.GetEnvStr("MIGRATIONS_TABLE", "schema_migrations"),
		MigrationsPath:  config.GetEnvStr("MIGRATIONS_PATH", "./migrations"),
		Env:             config.GetEnvStr("ENV", "dev"),
	}
}

// Validate rejects a Config missing required fields.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrEmptyDatabaseURL
	}

	return nil
}
