package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"zipsea/internal/types"
)

// batchStatusResponse is the ops-facing view of one batch: counters, status,
// and the failed units with their reasons.
type batchStatusResponse struct {
	Batch    *types.IngestionBatch `json:"batch"`
	Failures []types.UnitFailure   `json:"failures,omitempty"`
}

// HandleBatchStatus returns the batch's counters and, for batches with
// failures, the failed resource keys and reasons. This is the observable
// "done" signal for a multi-file delivery.
func (s *Server) HandleBatchStatus(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	if _, err := uuid.Parse(batchID); err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundBatch, "batch not found", err))
		return
	}

	b, failures, err := s.Batches.Status(r.Context(), batchID)
	if err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: batchStatusResponse{
		Batch:    b,
		Failures: failures,
	}})
}
