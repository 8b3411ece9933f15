package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"zipsea/internal/db"
	"zipsea/internal/types"
)

// maxTargetedPaths caps one notification's path list. Larger deliveries must
// use a line resync, which enumerates paths on the worker side instead of
// carrying them through the queue.
const maxTargetedPaths = 500

// pricingNotification is the classified unit-of-work descriptor the
// notification sender posts.
type pricingNotification struct {
	Kind   string   `json:"kind" validate:"required,oneof=line_resync targeted_files"`
	LineID int      `json:"line_id,omitempty"`
	Paths  []string `json:"paths,omitempty"`
}

// acceptedResponse acknowledges an accepted notification.
type acceptedResponse struct {
	BatchID    string `json:"batch_id"`
	TotalUnits int    `json:"total_units"`
}

// HandlePricingNotification validates and classifies an inbound pricing
// notification, registers its batch, and enqueues one unit per resource.
// Once the batch is registered the response is always 202: later failures
// are handled entirely inside the pipeline, never surfaced to the sender,
// which would otherwise retry-storm.
func (s *Server) HandlePricingNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pricingNotification
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}
	if err := s.validateNotification(req); err != nil {
		Error(w, r, err)
		return
	}

	seeds, messages := expandNotification(req)

	b, units, err := s.Batches.Register(ctx, seeds)
	if err != nil {
		Error(w, r, err)
		return
	}

	traceID := GetRequestID(ctx)
	now := time.Now().UTC()
	for i, msg := range messages {
		msg.UnitID = units[i].ID
		msg.BatchID = b.ID
		msg.TraceID = traceID
		msg.EnqueuedAt = now

		if err := s.Queue.Publish(ctx, msg, 0); err != nil {
			// The unit never reached the queue; fail it in the batch so the
			// counters still converge. The sender still gets a 202.
			s.Logger.ErrorContext(ctx, "failed to enqueue unit",
				slog.String("batch_id", b.ID),
				slog.String("unit_id", msg.UnitID),
				slog.String("error", err.Error()))
			if _, markErr := s.Batches.MarkUnitDone(ctx, b.ID, msg.UnitID, false,
				fmt.Sprintf("%s: %v", types.ErrCodeQueueBackend, err)); markErr != nil {
				s.Logger.ErrorContext(ctx, "failed to record enqueue failure",
					slog.String("unit_id", msg.UnitID),
					slog.String("error", markErr.Error()))
			}
		}
	}

	s.Logger.InfoContext(ctx, "notification accepted",
		slog.String("batch_id", b.ID),
		slog.String("kind", req.Kind),
		slog.Int("total_units", b.TotalUnits))

	JSON(w, r, http.StatusAccepted, APIResponse{Data: acceptedResponse{
		BatchID:    b.ID,
		TotalUnits: b.TotalUnits,
	}})
}

// validateNotification checks shape beyond what struct tags express.
func (s *Server) validateNotification(req pricingNotification) error {
	if err := s.validator.Struct(req); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidKind,
			fmt.Sprintf("kind must be %q or %q", types.SyncLineResync, types.SyncTargetedFiles), err)
	}

	switch types.SyncKind(req.Kind) {
	case types.SyncLineResync:
		if req.LineID <= 0 {
			return types.NewAppError(types.ErrCodeValidationMissingField,
				"line_resync requires a positive line_id", nil)
		}
	case types.SyncTargetedFiles:
		if len(req.Paths) == 0 {
			return types.NewAppError(types.ErrCodeValidationMissingField,
				"targeted_files requires at least one path", nil)
		}
		if len(req.Paths) > maxTargetedPaths {
			return types.NewAppError(types.ErrCodeValidationBatchSize,
				fmt.Sprintf("notification lists %d paths, maximum is %d", len(req.Paths), maxTargetedPaths), nil)
		}
		for _, p := range req.Paths {
			if _, err := types.ParseFilePath(p); err != nil {
				return types.NewAppError(types.ErrCodeValidationInvalidPath, err.Error(), nil)
			}
		}
	}
	return nil
}

// expandNotification turns a validated notification into unit seeds and
// their queue messages. A line resync is one unit; a targeted notification
// becomes one unit per path, so one bad file can never hide the others'
// completion in the batch counters.
func expandNotification(req pricingNotification) ([]db.UnitSeed, []types.SyncMessage) {
	if types.SyncKind(req.Kind) == types.SyncLineResync {
		return []db.UnitSeed{{ResourceKey: types.LineResourceKey(req.LineID)}},
			[]types.SyncMessage{{Kind: types.SyncLineResync, LineID: req.LineID}}
	}

	seeds := make([]db.UnitSeed, len(req.Paths))
	messages := make([]types.SyncMessage, len(req.Paths))
	for i, p := range req.Paths {
		// Validation already proved the path parses.
		parts, _ := types.ParseFilePath(p)
		seeds[i] = db.UnitSeed{
			ResourceKey: types.SailingResourceKey(parts.SailingID),
			Path:        p,
		}
		messages[i] = types.SyncMessage{
			Kind:  types.SyncTargetedFiles,
			Paths: []string{p},
		}
	}
	return seeds, messages
}
