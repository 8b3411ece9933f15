package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"zipsea/internal/types"
)

type fakeSnapshots struct {
	snap *types.PriceSnapshot
	err  error
}

func (f *fakeSnapshots) LatestForSailing(context.Context, int) (*types.PriceSnapshot, error) {
	return f.snap, f.err
}

func getLatestSnapshot(t *testing.T, s *Server, sailingID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/sailings/"+sailingID+"/snapshots/latest", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestLatestSnapshot(t *testing.T) {
	interior, drop, pct := 760.0, -40.0, -5.0
	snaps := &fakeSnapshots{snap: &types.PriceSnapshot{
		ID:         17,
		SailingID:  8734921,
		CapturedAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		BatchID:    "11111111-2222-3333-4444-555555555555",
		Rollup:     types.CheapestPriceRollup{Interior: &interior, Overall: &interior},
		Deltas: types.SnapshotDeltas{
			Interior: types.PriceDelta{Absolute: &drop, Percent: &pct},
		},
	}}
	base := newTestServer(&fakeBatches{}, &fakePublisher{failAfter: -1}, nil)
	s := NewServer(base.Config, base.Logger, &fakeBatches{}, &fakePublisher{failAfter: -1}, snaps, nil)

	rec := getLatestSnapshot(t, s, "8734921")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data types.PriceSnapshot `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Data.SailingID != 8734921 {
		t.Errorf("sailing id = %d", resp.Data.SailingID)
	}
	if resp.Data.Rollup.Interior == nil || *resp.Data.Rollup.Interior != 760 {
		t.Errorf("interior = %v", resp.Data.Rollup.Interior)
	}
	if resp.Data.Deltas.Interior.Absolute == nil || *resp.Data.Deltas.Interior.Absolute != -40 {
		t.Errorf("interior delta = %v", resp.Data.Deltas.Interior.Absolute)
	}
}

func TestLatestSnapshotNoHistory(t *testing.T) {
	s := newTestServer(&fakeBatches{}, &fakePublisher{failAfter: -1}, nil)

	rec := getLatestSnapshot(t, s, "8734921")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if detail := decodeError(t, rec); detail.Code != string(types.ErrCodeNotFoundListing) {
		t.Errorf("code = %s", detail.Code)
	}
}

func TestLatestSnapshotInvalidID(t *testing.T) {
	s := newTestServer(&fakeBatches{}, &fakePublisher{failAfter: -1}, nil)

	for _, id := range []string{"abc", "0", "-5"} {
		rec := getLatestSnapshot(t, s, id)
		if rec.Code != http.StatusNotFound {
			t.Errorf("id %q: status = %d", id, rec.Code)
		}
	}
}

func TestLatestSnapshotReadFailure(t *testing.T) {
	snaps := &fakeSnapshots{err: types.NewAppError(types.ErrCodeInternalDB, "failed to query latest snapshot", nil)}
	base := newTestServer(&fakeBatches{}, &fakePublisher{failAfter: -1}, nil)
	s := NewServer(base.Config, base.Logger, &fakeBatches{}, &fakePublisher{failAfter: -1}, snaps, nil)

	rec := getLatestSnapshot(t, s, "8734921")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if detail := decodeError(t, rec); detail.Code != string(types.ErrCodeInternalDB) {
		t.Errorf("code = %s", detail.Code)
	}
}
