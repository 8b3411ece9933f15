package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"zipsea/internal/lock"
	"zipsea/internal/metrics"
	"zipsea/internal/queue"
	"zipsea/internal/snapshot"
	"zipsea/internal/types"
)

// --- Fakes ---

type fakeLocks struct {
	mu       sync.Mutex
	acquires []string
	releases []string
	renews   int
	// contended keys return ErrAlreadyLocked; backendErr overrides everything.
	contended  map[string]bool
	backendErr error
}

func (f *fakeLocks) TryAcquire(_ context.Context, key string, ttl time.Duration) (*lock.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires = append(f.acquires, key)
	if f.backendErr != nil {
		return nil, f.backendErr
	}
	if f.contended[key] {
		return nil, lock.ErrAlreadyLocked
	}
	return &lock.Handle{Key: key, HolderID: "h-" + key, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (f *fakeLocks) Release(_ context.Context, h *lock.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, h.Key)
	return nil
}

func (f *fakeLocks) Renew(_ context.Context, _ *lock.Handle, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renews++
	return nil
}

func (f *fakeLocks) Ping(context.Context) error { return nil }
func (f *fakeLocks) Close() error               { return nil }

type fakeFetcher struct {
	mu    sync.Mutex
	files map[string][]byte
	errs  map[string]error
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, path)
	if err, ok := f.errs[path]; ok {
		return nil, err
	}
	data, ok := f.files[path]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeFetchExhausted, "download retries exhausted", nil)
	}
	return data, nil
}

type fakePathLister struct {
	paths []string
	err   error
}

func (f *fakePathLister) ListSourcePathsForLine(context.Context, int) ([]string, error) {
	return f.paths, f.err
}

type commitCall struct {
	listing types.CruiseListing
	rollup  types.CheapestPriceRollup
}

type fakeCommitter struct {
	mu    sync.Mutex
	calls []commitCall
	err   error
}

func (f *fakeCommitter) CommitPricing(_ context.Context, listing types.CruiseListing, _ map[types.RateKey]types.PriceEntry, rollup types.CheapestPriceRollup, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, commitCall{listing: listing, rollup: rollup})
	return nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	captures []int
	deltas   []int
}

func (f *fakeRecorder) CaptureBefore(_ context.Context, sailingID int) snapshot.Prior {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures = append(f.captures, sailingID)
	return snapshot.Prior{SailingID: sailingID}
}

func (f *fakeRecorder) CommitDelta(_ context.Context, prior snapshot.Prior, _ types.CheapestPriceRollup, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deltas = append(f.deltas, prior.SailingID)
	return true
}

type doneCall struct {
	batchID string
	unitID  string
	success bool
	reason  string
}

type fakeTracker struct {
	mu     sync.Mutex
	states []types.UnitState
	dones  []doneCall
	batch  *types.IngestionBatch
}

func (f *fakeTracker) RecordUnitState(_ context.Context, _ string, state types.UnitState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
}

func (f *fakeTracker) MarkUnitDone(_ context.Context, batchID, unitID string, success bool, reason string) (*types.IngestionBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dones = append(f.dones, doneCall{batchID: batchID, unitID: unitID, success: success, reason: reason})
	if f.batch != nil {
		return f.batch, nil
	}
	return &types.IngestionBatch{ID: batchID, Status: types.BatchInProgress}, nil
}

type publishCall struct {
	msg   types.SyncMessage
	delay time.Duration
}

type fakeQueue struct {
	mu        sync.Mutex
	published []publishCall
	err       error
}

func (f *fakeQueue) Publish(_ context.Context, msg types.SyncMessage, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishCall{msg: msg, delay: delay})
	return nil
}

func (f *fakeQueue) Receive(context.Context, int) ([]queue.Delivery, error) { return nil, nil }
func (f *fakeQueue) Ack(context.Context, queue.Delivery) error             { return nil }
func (f *fakeQueue) Ping(context.Context) error                            { return nil }
func (f *fakeQueue) Close() error                                          { return nil }

// --- Harness ---

type harness struct {
	locks     *fakeLocks
	files     *fakeFetcher
	paths     *fakePathLister
	committer *fakeCommitter
	recorder  *fakeRecorder
	tracker   *fakeTracker
	q         *fakeQueue
	orch      *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		locks:     &fakeLocks{contended: map[string]bool{}},
		files:     &fakeFetcher{files: map[string][]byte{}, errs: map[string]error{}},
		paths:     &fakePathLister{},
		committer: &fakeCommitter{},
		recorder:  &fakeRecorder{},
		tracker:   &fakeTracker{},
		q:         &fakeQueue{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.orch = New(h.locks, h.files, h.paths, h.committer, h.recorder, h.tracker, h.q,
		metrics.NoopPublisher{}, Config{
			LockTTL:             time.Minute,
			RenewInterval:       30 * time.Second,
			UnitBudget:          time.Minute,
			RequeueDelay:        15 * time.Second,
			MaxRequeues:         3,
			DownloadConcurrency: 2,
		}, logger)
	return h
}

func sailingDoc(sailingID, lineID int) []byte {
	return []byte(fmt.Sprintf(`{
		"codetocruiseid": %d, "lineid": %d, "shipid": 410,
		"name": "Test Sailing", "saildate": "2026-06-01", "nights": 7,
		"prices": {"R": {"IB": {"2": {"price": 899, "cabintype": "inside", "available": true}}}}
	}`, sailingID, lineID))
}

func targetedMsg(paths ...string) types.SyncMessage {
	return types.SyncMessage{
		UnitID:  "u1",
		BatchID: "b1",
		Kind:    types.SyncTargetedFiles,
		Paths:   paths,
	}
}

func (h *harness) lastDone(t *testing.T) doneCall {
	t.Helper()
	h.tracker.mu.Lock()
	defer h.tracker.mu.Unlock()
	if len(h.tracker.dones) == 0 {
		t.Fatal("MarkUnitDone was never called")
	}
	return h.tracker.dones[len(h.tracker.dones)-1]
}

// --- Tests ---

func TestTargetedUnitCommits(t *testing.T) {
	h := newHarness(t)
	path := "2026/06/22/410/900001.json"
	h.files.files[path] = sailingDoc(900001, 22)

	err := h.orch.ProcessDelivery(context.Background(), queue.Delivery{Message: targetedMsg(path)})
	if err != nil {
		t.Fatalf("ProcessDelivery failed: %v", err)
	}

	done := h.lastDone(t)
	if !done.success || done.batchID != "b1" || done.unitID != "u1" {
		t.Errorf("done = %+v, want success", done)
	}

	// The sailing lock, not the line lock, covers a targeted unit.
	if len(h.locks.acquires) != 1 || h.locks.acquires[0] != "sailing:900001" {
		t.Errorf("acquires = %v", h.locks.acquires)
	}
	if len(h.locks.releases) != 1 {
		t.Errorf("releases = %v", h.locks.releases)
	}

	if len(h.committer.calls) != 1 {
		t.Fatalf("commits = %d, want 1", len(h.committer.calls))
	}
	c := h.committer.calls[0]
	if c.listing.SailingID != 900001 || c.listing.SourcePath != path {
		t.Errorf("committed listing = %+v", c.listing)
	}
	if c.rollup.Interior == nil || *c.rollup.Interior != 899 {
		t.Errorf("committed rollup = %+v", c.rollup)
	}

	// Snapshot capture brackets the commit.
	if len(h.recorder.captures) != 1 || h.recorder.captures[0] != 900001 {
		t.Errorf("captures = %v", h.recorder.captures)
	}
	if len(h.recorder.deltas) != 1 {
		t.Errorf("deltas = %v", h.recorder.deltas)
	}

	wantStates := []types.UnitState{
		types.UnitLockAcquired, types.UnitDownloading, types.UnitParsing,
		types.UnitSnapshotCapture, types.UnitPersisting,
	}
	if len(h.tracker.states) != len(wantStates) {
		t.Fatalf("states = %v, want %v", h.tracker.states, wantStates)
	}
	for i, s := range wantStates {
		if h.tracker.states[i] != s {
			t.Errorf("state[%d] = %s, want %s", i, h.tracker.states[i], s)
		}
	}
}

func TestTargetedUnitFetchFailure(t *testing.T) {
	h := newHarness(t)
	path := "2026/06/22/410/900002.json"
	h.files.errs[path] = types.NewAppError(types.ErrCodeFetchExhausted, "download retries exhausted", nil)

	_ = h.orch.ProcessDelivery(context.Background(), queue.Delivery{Message: targetedMsg(path)})

	done := h.lastDone(t)
	if done.success {
		t.Fatal("unit should have failed")
	}
	if !strings.Contains(done.reason, string(types.ErrCodeFetchExhausted)) {
		t.Errorf("reason = %q", done.reason)
	}
	if len(h.committer.calls) != 0 {
		t.Error("nothing should commit after a failed download")
	}
	// The lock is still released.
	if len(h.locks.releases) != 1 {
		t.Errorf("releases = %v", h.locks.releases)
	}
}

func TestTargetedUnitParseFailure(t *testing.T) {
	h := newHarness(t)
	path := "2026/06/22/410/900003.json"
	h.files.files[path] = []byte(`{"lineid": 22, "shipid": 410}`)

	_ = h.orch.ProcessDelivery(context.Background(), queue.Delivery{Message: targetedMsg(path)})

	done := h.lastDone(t)
	if done.success {
		t.Fatal("unit should have failed")
	}
	if !strings.Contains(done.reason, string(types.ErrCodeParseInvalid)) {
		t.Errorf("reason = %q", done.reason)
	}
}

func TestTargetedUnitPersistFailureAfterCapture(t *testing.T) {
	h := newHarness(t)
	path := "2026/06/22/410/900004.json"
	h.files.files[path] = sailingDoc(900004, 22)
	h.committer.err = errors.New("deadlock detected")

	_ = h.orch.ProcessDelivery(context.Background(), queue.Delivery{Message: targetedMsg(path)})

	done := h.lastDone(t)
	if done.success || !strings.Contains(done.reason, string(types.ErrCodePersistFailed)) {
		t.Errorf("done = %+v", done)
	}
	// No snapshot after a failed commit.
	if len(h.recorder.deltas) != 0 {
		t.Errorf("deltas = %v, want none", h.recorder.deltas)
	}
}

func TestLockContentionRequeues(t *testing.T) {
	h := newHarness(t)
	path := "2026/06/22/410/900005.json"
	h.locks.contended["sailing:900005"] = true

	m := targetedMsg(path)
	m.Attempt = 1
	_ = h.orch.ProcessDelivery(context.Background(), queue.Delivery{Message: m})

	// Requeued, not completed: the batch counters must not move.
	if len(h.tracker.dones) != 0 {
		t.Errorf("dones = %+v, want none", h.tracker.dones)
	}
	if len(h.q.published) != 1 {
		t.Fatalf("published = %d, want 1", len(h.q.published))
	}
	p := h.q.published[0]
	if p.msg.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", p.msg.Attempt)
	}
	if p.delay != 15*time.Second {
		t.Errorf("delay = %v, want 15s", p.delay)
	}
	if p.msg.UnitID != "u1" || p.msg.BatchID != "b1" {
		t.Errorf("requeued msg = %+v", p.msg)
	}
}

func TestLockContentionBudgetExhausted(t *testing.T) {
	h := newHarness(t)
	path := "2026/06/22/410/900006.json"
	h.locks.contended["sailing:900006"] = true

	m := targetedMsg(path)
	m.Attempt = 3 // equals MaxRequeues
	_ = h.orch.ProcessDelivery(context.Background(), queue.Delivery{Message: m})

	if len(h.q.published) != 0 {
		t.Errorf("published = %+v, want none", h.q.published)
	}
	done := h.lastDone(t)
	if done.success || !strings.Contains(done.reason, string(types.ErrCodeLockContended)) {
		t.Errorf("done = %+v", done)
	}
}

func TestLockBackendErrorFailsUnit(t *testing.T) {
	h := newHarness(t)
	h.locks.backendErr = errors.New("connection refused")

	_ = h.orch.ProcessDelivery(context.Background(), queue.Delivery{Message: targetedMsg("2026/06/22/410/900007.json")})

	done := h.lastDone(t)
	if done.success || !strings.Contains(done.reason, string(types.ErrCodeLockBackend)) {
		t.Errorf("done = %+v", done)
	}
	if len(h.q.published) != 0 {
		t.Error("a backend error is not contention; no requeue")
	}
}

func TestLineResyncCommitsAllPaths(t *testing.T) {
	h := newHarness(t)
	paths := []string{
		"2026/06/22/410/910001.json",
		"2026/06/22/410/910002.json",
		"2026/06/22/411/910003.json",
	}
	h.paths.paths = paths
	for i, p := range paths {
		h.files.files[p] = sailingDoc(910001+i, 22)
	}

	m := types.SyncMessage{UnitID: "u1", BatchID: "b1", Kind: types.SyncLineResync, LineID: 22}
	_ = h.orch.ProcessDelivery(context.Background(), queue.Delivery{Message: m})

	done := h.lastDone(t)
	if !done.success {
		t.Fatalf("done = %+v, want success", done)
	}
	// One line-wide lock for the whole unit, not one per sailing.
	if len(h.locks.acquires) != 1 || h.locks.acquires[0] != "line:22" {
		t.Errorf("acquires = %v", h.locks.acquires)
	}
	if len(h.committer.calls) != 3 {
		t.Errorf("commits = %d, want 3", len(h.committer.calls))
	}
}

func TestLineResyncPartialFailure(t *testing.T) {
	h := newHarness(t)
	paths := []string{
		"2026/06/22/410/910001.json",
		"2026/06/22/410/910002.json",
		"2026/06/22/411/910003.json",
	}
	h.paths.paths = paths
	h.files.files[paths[0]] = sailingDoc(910001, 22)
	h.files.errs[paths[1]] = types.NewAppError(types.ErrCodeFetchExhausted, "download retries exhausted", nil)
	h.files.files[paths[2]] = sailingDoc(910003, 22)

	m := types.SyncMessage{UnitID: "u1", BatchID: "b1", Kind: types.SyncLineResync, LineID: 22}
	_ = h.orch.ProcessDelivery(context.Background(), queue.Delivery{Message: m})

	done := h.lastDone(t)
	if done.success {
		t.Fatal("unit should have failed")
	}
	if !strings.Contains(done.reason, "1 of 3 paths failed") {
		t.Errorf("reason = %q", done.reason)
	}
	// The successful sailings stay committed; the unit failure does not roll
	// them back.
	if len(h.committer.calls) != 2 {
		t.Errorf("commits = %d, want 2", len(h.committer.calls))
	}
	if len(h.locks.releases) != 1 {
		t.Errorf("releases = %v", h.locks.releases)
	}
}

func TestLineResyncNoKnownSailings(t *testing.T) {
	h := newHarness(t)
	h.paths.paths = nil

	m := types.SyncMessage{UnitID: "u1", BatchID: "b1", Kind: types.SyncLineResync, LineID: 99}
	_ = h.orch.ProcessDelivery(context.Background(), queue.Delivery{Message: m})

	done := h.lastDone(t)
	if !done.success {
		t.Errorf("done = %+v, want trivially successful", done)
	}
	if len(h.files.calls) != 0 {
		t.Errorf("fetches = %v, want none", h.files.calls)
	}
}

func TestLineResyncEnumerationFailure(t *testing.T) {
	h := newHarness(t)
	h.paths.err = errors.New("relation does not exist")

	m := types.SyncMessage{UnitID: "u1", BatchID: "b1", Kind: types.SyncLineResync, LineID: 22}
	_ = h.orch.ProcessDelivery(context.Background(), queue.Delivery{Message: m})

	done := h.lastDone(t)
	if done.success || !strings.Contains(done.reason, string(types.ErrCodePersistFailed)) {
		t.Errorf("done = %+v", done)
	}
}

func TestUnknownKindFailsUnit(t *testing.T) {
	h := newHarness(t)
	m := types.SyncMessage{UnitID: "u1", BatchID: "b1", Kind: "full_export"}
	_ = h.orch.ProcessDelivery(context.Background(), queue.Delivery{Message: m})

	done := h.lastDone(t)
	if done.success || !strings.Contains(done.reason, string(types.ErrCodeValidationInvalidKind)) {
		t.Errorf("done = %+v", done)
	}
}

func TestTargetedMultiplePathsLockEachSailing(t *testing.T) {
	h := newHarness(t)
	paths := []string{"2026/06/22/410/920001.json", "2026/06/22/410/920002.json"}
	for i, p := range paths {
		h.files.files[p] = sailingDoc(920001+i, 22)
	}

	_ = h.orch.ProcessDelivery(context.Background(), queue.Delivery{Message: targetedMsg(paths...)})

	done := h.lastDone(t)
	if !done.success {
		t.Fatalf("done = %+v", done)
	}
	if len(h.locks.acquires) != 2 || len(h.locks.releases) != 2 {
		t.Errorf("acquires/releases = %v / %v", h.locks.acquires, h.locks.releases)
	}
	if h.locks.acquires[0] != "sailing:920001" || h.locks.acquires[1] != "sailing:920002" {
		t.Errorf("acquires = %v", h.locks.acquires)
	}
}
