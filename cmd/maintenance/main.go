// Package main is the cron-style maintenance runner. It executes the
// pipeline's periodic sweeps: price snapshot retention and stale unit
// cleanup. Each task takes a database job lock keyed to the current hour, so
// overlapping schedules and multiple runner instances cannot double-sweep.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"zipsea/internal/app"
	"zipsea/internal/config"
	"zipsea/internal/db"
)

// jobLockTTL covers one sweep run with margin; an expired lock is reclaimed
// by the next scheduled run.
const jobLockTTL = 15 * time.Minute

// staleSweepLimit bounds units failed per run; leftovers wait for the next
// schedule.
const staleSweepLimit = 1000

const (
	taskSnapshotRetention = "snapshot-retention"
	taskStaleUnits        = "stale-units"
	taskAll               = "all"
)

func main() {
	task := flag.String("task", taskAll, "maintenance task to run: snapshot-retention, stale-units or all")
	flag.Parse()

	if err := run(*task); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(task string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg)

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}

	workerID := uuid.NewString()
	jobLocks := db.NewJobLockRepository(pool)

	runTask := func(name string, fn func(context.Context) error) error {
		// Hour-window lock ID: at most one successful run per task per hour
		// across every runner instance.
		lockID := fmt.Sprintf("%s:%s", name, time.Now().UTC().Format("2006-01-02T15"))
		acquired, err := jobLocks.Acquire(ctx, lockID, workerID, jobLockTTL)
		if err != nil {
			return err
		}
		if !acquired {
			logger.Info("task already ran this window, skipping",
				slog.String("task", name))
			return nil
		}
		defer func() {
			if err := jobLocks.Release(ctx, lockID, workerID); err != nil {
				logger.Warn("failed to release job lock",
					slog.String("task", name),
					slog.String("error", err.Error()))
			}
		}()

		start := time.Now()
		if err := fn(ctx); err != nil {
			return fmt.Errorf("task %s: %w", name, err)
		}
		logger.Info("task finished",
			slog.String("task", name),
			slog.Duration("duration", time.Since(start)))
		return nil
	}

	if task == taskAll || task == taskSnapshotRetention {
		if err := runTask(taskSnapshotRetention, func(ctx context.Context) error {
			return sweepSnapshots(ctx, cfg, pool, logger)
		}); err != nil {
			return err
		}
	}
	if task == taskAll || task == taskStaleUnits {
		if err := runTask(taskStaleUnits, func(ctx context.Context) error {
			return sweepStaleUnits(ctx, cfg, pool, logger)
		}); err != nil {
			return err
		}
	}
	if task != taskAll && task != taskSnapshotRetention && task != taskStaleUnits {
		return fmt.Errorf("unknown task %q", task)
	}
	return nil
}

// sweepSnapshots deletes price snapshots past the retention horizon in
// bounded batches until none remain.
func sweepSnapshots(ctx context.Context, cfg *config.Config, pool db.DBTX, logger *slog.Logger) error {
	repo := db.NewSnapshotRepository(pool)
	cutoff := time.Now().UTC().AddDate(0, 0, -cfg.Snapshot.RetentionDays)

	total := 0
	for {
		n, err := repo.DeleteOlderThan(ctx, cutoff, cfg.Snapshot.SweepBatchSize)
		if err != nil {
			return err
		}
		total += n
		if n < cfg.Snapshot.SweepBatchSize {
			break
		}
	}
	logger.Info("snapshot retention sweep complete",
		slog.Time("cutoff", cutoff),
		slog.Int("deleted", total))
	return nil
}

// sweepStaleUnits fails non-terminal units that stopped moving, so their
// batches still converge after a worker crash.
func sweepStaleUnits(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) error {
	tracker := app.NewTracker(pool, logger)
	swept, err := tracker.SweepStale(ctx, cfg.Ingest.StaleUnitHorizon, staleSweepLimit)
	if err != nil {
		return err
	}
	logger.Info("stale unit sweep complete", slog.Int("failed_units", swept))
	return nil
}
