// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Use envconfig to process struct tags and populate the Config struct.
//  4. Validate the struct using go-playground/validator.
//  5. Apply cross-field checks that struct tags cannot express.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrParsing indicates a failure parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
)

// ConfigError is a diagnostic error type returned by Load.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load loads and validates the pipeline configuration from the environment.
// A .env file in the working directory is merged in without overriding
// already-set variables.
func Load() (*Config, error) {
	// Step 1: Enforce UTC. Sail dates and snapshot timestamps are compared
	// across processes; local-time drift here corrupts delta queries.
	time.Local = time.UTC

	// Step 2: .env fallback, non-fatal if absent.
	_ = godotenv.Load()

	// Step 3: envconfig struct tags.
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	// Step 4: struct validation.
	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	// Step 5: cross-field checks.
	if err := cfg.crossValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// crossValidate applies requirements that depend on which backends are
// selected, which struct tags alone cannot express.
func (c *Config) crossValidate() error {
	if c.Lock.Backend == "redis" && c.Lock.RedisURL.Reveal() == "" {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "LOCK_BACKEND=redis requires REDIS_URL",
		}
	}
	if c.Queue.Backend == "sqs" && c.Queue.SyncQueueURL == "" {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "QUEUE_BACKEND=sqs requires SQS_SYNC_QUEUE",
		}
	}
	if c.Lock.RenewInterval >= c.Lock.TTL {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "LOCK_RENEW_INTERVAL must be shorter than LOCK_TTL",
		}
	}
	// The lock must comfortably outlive a worst-case unit; a TTL below the
	// unit budget would let a live worker lose its lock mid-persist.
	if c.Lock.TTL < c.Ingest.UnitBudget {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "LOCK_TTL must be at least INGEST_UNIT_BUDGET",
		}
	}
	return nil
}
