// Package main is the entrypoint for the standalone ingestion worker. It
// consumes sync messages from the shared queue and runs the ingestion state
// machine; deploy it separately from the API when QUEUE_BACKEND=sqs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"zipsea/internal/app"
	"zipsea/internal/config"
	"zipsea/internal/db"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
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

	locks, err := app.NewLockManager(cfg)
	if err != nil {
		return err
	}
	defer locks.Close()

	q, err := app.NewQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer q.Close()

	mp, err := app.NewMetrics(ctx, cfg, logger)
	if err != nil {
		return err
	}

	files := app.NewFileClient(cfg)
	defer files.Close()

	tracker := app.NewTracker(pool, logger)
	workerPool := app.NewIngestPool(cfg, pool, locks, files, tracker, q, mp, logger)

	// Blocks until the signal context is cancelled, then drains in-flight
	// units before returning.
	return workerPool.Run(ctx)
}
