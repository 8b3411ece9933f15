// Package api is the HTTP surface of the ingestion pipeline: the
// notification receiver, the batch status query, and the health check. The
// receiver is deliberately thin; everything that can fail after acceptance
// fails inside the pipeline, never back toward the notification sender.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"zipsea/internal/config"
	"zipsea/internal/db"
	"zipsea/internal/types"

	"log/slog"
)

// BatchService is the batch accounting surface the API drives. Implemented
// by *batch.Tracker.
type BatchService interface {
	Register(ctx context.Context, seeds []db.UnitSeed) (*types.IngestionBatch, []db.UnitSeed, error)
	MarkUnitDone(ctx context.Context, batchID, unitID string, success bool, reason string) (*types.IngestionBatch, error)
	Status(ctx context.Context, batchID string) (*types.IngestionBatch, []types.UnitFailure, error)
}

// Publisher is the queue surface the receiver enqueues units onto.
type Publisher interface {
	Publish(ctx context.Context, msg types.SyncMessage, delay time.Duration) error
}

// SnapshotReader is the price-history read surface. Implemented by
// *db.SnapshotRepository.
type SnapshotReader interface {
	LatestForSailing(ctx context.Context, sailingID int) (*types.PriceSnapshot, error)
}

// Server holds the API's dependencies and router.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Batches   BatchService
	Queue     Publisher
	Snapshots SnapshotReader
	Probes    []HealthProbe
	validator *validator.Validate

	router *chi.Mux
}

// NewServer wires the router and middleware. Routes are mounted immediately;
// the returned server is ready to serve.
func NewServer(cfg *config.Config, logger *slog.Logger, batches BatchService, q Publisher, snapshots SnapshotReader, probes []HealthProbe) *Server {
	s := &Server{
		Config:    cfg,
		Logger:    logger,
		Batches:   batches,
		Queue:     q,
		Snapshots: snapshots,
		Probes:    probes,
		validator: validator.New(),
		router:    chi.NewRouter(),
	}
	s.mountRoutes()
	return s
}

func (s *Server) mountRoutes() {
	r := s.router
	r.Use(Recoverer(s.Logger))
	r.Use(RequestID)
	r.Use(RequestLogger(s.Logger))

	r.Get("/health", s.HandleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/webhooks/pricing", s.HandlePricingNotification)
		r.Get("/batches/{batchID}", s.HandleBatchStatus)
		r.Get("/sailings/{sailingID}/snapshots/latest", s.HandleLatestSnapshot)
	})
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}
