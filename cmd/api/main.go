// Package main is the entrypoint for the ingestion API: the notification
// receiver, batch status queries and the health check.
//
// With QUEUE_BACKEND=memory the binary also runs the ingestion workers
// in-process (single-node deployment); with sqs it only publishes, and the
// sync-worker binary consumes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zipsea/internal/api"
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

	tracker := app.NewTracker(pool, logger)

	probes := []api.HealthProbe{
		api.ProbeFunc{ProbeName: "database", Fn: pool.Ping},
		api.ProbeFunc{ProbeName: "locks", Fn: locks.Ping},
		api.ProbeFunc{ProbeName: "queue", Fn: q.Ping},
	}

	// Single-process mode: the receiver and the workers share the memory
	// queue, so the workers must live here.
	workersDone := make(chan struct{})
	if cfg.Queue.Backend == "memory" {
		files := app.NewFileClient(cfg)
		defer files.Close()
		probes = append(probes, api.ProbeFunc{ProbeName: "file_server", Fn: files.Ping})

		workerPool := app.NewIngestPool(cfg, pool, locks, files, tracker, q, mp, logger)
		go func() {
			defer close(workersDone)
			_ = workerPool.Run(ctx)
		}()
	} else {
		close(workersDone)
	}

	server := api.NewServer(cfg, logger, tracker, q, db.NewSnapshotRepository(pool), probes)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	<-workersDone
	return nil
}
