// Package config defines the global configuration structure for the zipsea
// ingestion pipeline. Configuration is loaded once at process start and is
// immutable thereafter; sub-components receive only the specific config
// subsets they require.
//
// Values are resolved from the OS environment, with a local .env file as a
// fallback. Any missing required value or invalid format fails the process
// immediately on startup.
package config

import (
	"time"

	"zipsea/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the pipeline binaries.
// It is populated once during process initialization and never modified.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"zipsea-sync"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain configurations
	Server     ServerConfig
	Database   DatabaseConfig
	FileServer FileServerConfig
	Lock       LockConfig
	Queue      QueueConfig
	Ingest     IngestConfig
	Snapshot   SnapshotConfig
	Metrics    MetricsConfig
}

// ServerConfig holds HTTP server settings for the API binary.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
// The connection pool is shared process-wide with a fixed maximum.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// FileServerConfig holds settings for the remote cruise-data file server.
// The connection pool is deliberately small: the provider enforces a
// per-account connection budget, and exceeding it gets downloads queued
// behind a hard reset on their side.
type FileServerConfig struct {
	BaseURL  string       `envconfig:"FILE_SERVER_URL" validate:"required,url"`
	Username string       `envconfig:"FILE_SERVER_USER"`
	Password SecretString `envconfig:"FILE_SERVER_PASSWORD"`

	PoolSize        int           `envconfig:"FILE_SERVER_POOL_SIZE" default:"3"`
	MaxAttempts     int           `envconfig:"FILE_SERVER_MAX_ATTEMPTS" default:"3"`
	RetryBaseWait   time.Duration `envconfig:"FILE_SERVER_RETRY_BASE" default:"500ms"`
	RetryMaxWait    time.Duration `envconfig:"FILE_SERVER_RETRY_MAX" default:"5s"`
	DownloadTimeout time.Duration `envconfig:"FILE_SERVER_DOWNLOAD_TIMEOUT" default:"30s"`
}

// LockConfig selects and tunes the per-resource lock manager backend.
type LockConfig struct {
	// Backend is "memory" for single-node deployments or "redis" for a
	// shared lock store across workers.
	Backend  string       `envconfig:"LOCK_BACKEND" default:"memory" validate:"oneof=memory redis"`
	RedisURL SecretString `envconfig:"REDIS_URL"`

	TTL           time.Duration `envconfig:"LOCK_TTL" default:"10m"`
	RenewInterval time.Duration `envconfig:"LOCK_RENEW_INTERVAL" default:"3m"`
}

// QueueConfig selects and tunes the unit-of-work queue backend.
type QueueConfig struct {
	// Backend is "memory" for single-process deployments or "sqs" when the
	// API and workers run as separate processes.
	Backend string `envconfig:"QUEUE_BACKEND" default:"memory" validate:"oneof=memory sqs"`

	SyncQueueURL string `envconfig:"SQS_SYNC_QUEUE"`
	AWSRegion    string `envconfig:"AWS_REGION" default:"us-east-1"`
	// EndpointURL supports LocalStack; empty in production.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`

	// MemoryBuffer bounds the in-memory queue depth.
	MemoryBuffer int `envconfig:"QUEUE_MEMORY_BUFFER" default:"1024"`
}

// IngestConfig tunes the worker pool and the orchestrator's budgets.
type IngestConfig struct {
	Workers int `envconfig:"INGEST_WORKERS" default:"4"`

	// UnitBudget is the per-unit wall-clock limit; a unit exceeding it is
	// timed out, its lock released, and the unit marked failed.
	UnitBudget time.Duration `envconfig:"INGEST_UNIT_BUDGET" default:"5m"`

	// RequeueDelay is applied when a unit loses the lock race.
	RequeueDelay time.Duration `envconfig:"INGEST_REQUEUE_DELAY" default:"15s"`
	// MaxRequeues bounds contention requeues before the unit is failed.
	MaxRequeues int `envconfig:"INGEST_MAX_REQUEUES" default:"20"`

	// StaleUnitHorizon is how long a unit may sit non-terminal before the
	// maintenance sweep marks it failed.
	StaleUnitHorizon time.Duration `envconfig:"INGEST_STALE_UNIT_HORIZON" default:"30m"`
}

// SnapshotConfig tunes price snapshot retention.
type SnapshotConfig struct {
	RetentionDays int `envconfig:"SNAPSHOT_RETENTION_DAYS" default:"90"`
	// SweepBatchSize bounds rows deleted per retention sweep pass.
	SweepBatchSize int `envconfig:"SNAPSHOT_SWEEP_BATCH" default:"5000"`
}

// MetricsConfig holds telemetry settings.
type MetricsConfig struct {
	Enabled   bool   `envconfig:"METRICS_ENABLED" default:"false"`
	Namespace string `envconfig:"METRIC_NAMESPACE" default:"Zipsea/Ingestion"`
	AWSRegion string `envconfig:"AWS_REGION" default:"us-east-1"`
}
