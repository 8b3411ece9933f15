package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"zipsea/internal/types"
)

func getBatch(t *testing.T, s *Server, batchID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/batches/"+batchID, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestBatchStatus(t *testing.T) {
	finished := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	batches := &fakeBatches{
		statusBatch: &types.IngestionBatch{
			ID:             "11111111-2222-3333-4444-555555555555",
			TotalUnits:     3,
			CompletedUnits: 2,
			FailedUnits:    1,
			Status:         types.BatchCompleteWithErrors,
			FinishedAt:     &finished,
		},
		failures: []types.UnitFailure{{
			BatchID:     "11111111-2222-3333-4444-555555555555",
			ResourceKey: "sailing:900002",
			Path:        "2026/03/22/410/900002.json",
			Reason:      "unit_parse_invalid_document: document is not valid JSON",
		}},
	}
	s := newTestServer(batches, &fakePublisher{failAfter: -1}, nil)

	rec := getBatch(t, s, "11111111-2222-3333-4444-555555555555")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Data batchStatusResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response does not decode: %v", err)
	}
	if resp.Data.Batch.Status != types.BatchCompleteWithErrors {
		t.Errorf("status = %s", resp.Data.Batch.Status)
	}
	if resp.Data.Batch.CompletedUnits != 2 || resp.Data.Batch.FailedUnits != 1 {
		t.Errorf("counters = %d/%d", resp.Data.Batch.CompletedUnits, resp.Data.Batch.FailedUnits)
	}
	if len(resp.Data.Failures) != 1 || resp.Data.Failures[0].ResourceKey != "sailing:900002" {
		t.Errorf("failures = %+v", resp.Data.Failures)
	}
}

func TestBatchStatusInvalidID(t *testing.T) {
	s := newTestServer(&fakeBatches{}, &fakePublisher{failAfter: -1}, nil)

	rec := getBatch(t, s, "not-a-uuid")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if detail := decodeError(t, rec); detail.Code != string(types.ErrCodeNotFoundBatch) {
		t.Errorf("code = %s", detail.Code)
	}
}

func TestBatchStatusUnknownBatch(t *testing.T) {
	batches := &fakeBatches{statusErr: types.NewAppError(types.ErrCodeNotFoundBatch, "batch not found", nil)}
	s := newTestServer(batches, &fakePublisher{failAfter: -1}, nil)

	rec := getBatch(t, s, "11111111-2222-3333-4444-555555555555")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
