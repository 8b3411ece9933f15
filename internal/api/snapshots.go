package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"zipsea/internal/types"
)

// HandleLatestSnapshot returns the most recent price snapshot for a sailing,
// including the deltas against the snapshot before it. This is the read side
// of price-drop and trend queries.
func (s *Server) HandleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	sailingID, err := strconv.Atoi(chi.URLParam(r, "sailingID"))
	if err != nil || sailingID <= 0 {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundListing, "sailing not found", err))
		return
	}

	snap, err := s.Snapshots.LatestForSailing(r.Context(), sailingID)
	if err != nil {
		Error(w, r, err)
		return
	}
	if snap == nil {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundListing, "no price history for sailing", nil))
		return
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: snap})
}
