package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"zipsea/internal/batch"
	"zipsea/internal/config"
	"zipsea/internal/db"
	"zipsea/internal/fileclient"
	"zipsea/internal/ingest"
	"zipsea/internal/lock"
	"zipsea/internal/metrics"
	"zipsea/internal/queue"
	"zipsea/internal/snapshot"
)

// NewFileClient builds the pooled file retrieval client from config.
func NewFileClient(cfg *config.Config) *fileclient.Client {
	dialer := fileclient.NewHTTPDialer(fileclient.HTTPDialerConfig{
		BaseURL:  cfg.FileServer.BaseURL,
		Username: cfg.FileServer.Username,
		Password: cfg.FileServer.Password.Reveal(),
		Timeout:  cfg.FileServer.DownloadTimeout,
	})
	return fileclient.New(fileclient.Config{
		PoolSize: cfg.FileServer.PoolSize,
		Retry: fileclient.RetryPolicy{
			MaxAttempts: cfg.FileServer.MaxAttempts,
			BaseWait:    cfg.FileServer.RetryBaseWait,
			MaxWait:     cfg.FileServer.RetryMaxWait,
		},
		DownloadTimeout: cfg.FileServer.DownloadTimeout,
	}, dialer)
}

// NewTracker builds the batch tracker over the shared pool.
func NewTracker(pool *pgxpool.Pool, logger *slog.Logger) *batch.Tracker {
	return batch.NewTracker(
		db.NewBatchRepository(pool),
		&batch.PgTransactor{Pool: pool},
		logger,
	)
}

// NewIngestPool assembles the full ingestion pipeline: orchestrator plus
// worker pool, over the shared database pool and the selected lock and
// queue backends.
func NewIngestPool(
	cfg *config.Config,
	pool *pgxpool.Pool,
	locks lock.Manager,
	files *fileclient.Client,
	tracker *batch.Tracker,
	q queue.Queue,
	mp metrics.Publisher,
	logger *slog.Logger,
) *ingest.Pool {
	listings := db.NewListingRepository(pool)
	recorder := snapshot.NewRecorder(listings, db.NewSnapshotRepository(pool), logger)

	orch := ingest.New(
		locks,
		files,
		listings,
		&ingest.PgCommitter{Pool: pool},
		recorder,
		tracker,
		q,
		mp,
		ingest.Config{
			LockTTL:             cfg.Lock.TTL,
			RenewInterval:       cfg.Lock.RenewInterval,
			UnitBudget:          cfg.Ingest.UnitBudget,
			RequeueDelay:        cfg.Ingest.RequeueDelay,
			MaxRequeues:         cfg.Ingest.MaxRequeues,
			DownloadConcurrency: cfg.FileServer.PoolSize,
		},
		logger,
	)

	return ingest.NewPool(q, orch, cfg.Ingest.Workers, mp, logger)
}
