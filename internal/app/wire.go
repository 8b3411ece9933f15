// Package app wires configuration into the concrete backends shared by the
// pipeline binaries: logger, lock manager, queue, metrics. Each binary
// composes its own pipeline from these parts.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"zipsea/internal/config"
	"zipsea/internal/lock"
	"zipsea/internal/metrics"
	"zipsea/internal/queue"
)

// NewLogger builds the process-wide structured JSON logger.
func NewLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	return logger.With(
		slog.String("service", cfg.Service),
		slog.String("env", cfg.Environment),
	)
}

// NewLockManager selects the lock backend from config.
func NewLockManager(cfg *config.Config) (lock.Manager, error) {
	switch cfg.Lock.Backend {
	case "redis":
		return lock.NewRedisManager(cfg.Lock.RedisURL.Reveal())
	case "memory":
		return lock.NewMemoryManager(), nil
	default:
		return nil, fmt.Errorf("app: unknown lock backend %q", cfg.Lock.Backend)
	}
}

// NewQueue selects the queue backend from config.
func NewQueue(ctx context.Context, cfg *config.Config, logger *slog.Logger) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case "sqs":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Queue.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("app: loading AWS config: %w", err)
		}
		client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.Queue.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.Queue.EndpointURL)
			}
		})
		return queue.NewSQSQueue(client, cfg.Queue.SyncQueueURL, logger), nil
	case "memory":
		return queue.NewMemoryQueue(cfg.Queue.MemoryBuffer), nil
	default:
		return nil, fmt.Errorf("app: unknown queue backend %q", cfg.Queue.Backend)
	}
}

// NewMetrics returns the CloudWatch publisher when telemetry is enabled, a
// no-op otherwise.
func NewMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (metrics.Publisher, error) {
	if !cfg.Metrics.Enabled {
		return metrics.NoopPublisher{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Metrics.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("app: loading AWS config: %w", err)
	}
	client := cloudwatch.NewFromConfig(awsCfg)
	return metrics.NewCloudWatchPublisher(client, cfg.Metrics.Namespace, logger), nil
}
