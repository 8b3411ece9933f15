package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zipsea/internal/types"
)

// --- Fakes ---

type fakeRollupReader struct {
	rollup *types.CheapestPriceRollup
	err    error
}

func (f *fakeRollupReader) GetRollup(context.Context, int) (*types.CheapestPriceRollup, error) {
	return f.rollup, f.err
}

type fakeSnapshotWriter struct {
	inserted []types.PriceSnapshot
	err      error
}

func (f *fakeSnapshotWriter) Insert(_ context.Context, s types.PriceSnapshot) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, s)
	return nil
}

func newTestRecorder(reader *fakeRollupReader, writer *fakeSnapshotWriter) *Recorder {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRecorder(reader, writer, logger)
	r.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }
	return r
}

func fp(v float64) *float64 { return &v }

// --- Tests ---

func TestCommitDeltaComputesDeltas(t *testing.T) {
	writer := &fakeSnapshotWriter{}
	reader := &fakeRollupReader{rollup: &types.CheapestPriceRollup{
		Interior: fp(800), Balcony: fp(1500), Overall: fp(800),
	}}
	r := newTestRecorder(reader, writer)
	ctx := context.Background()

	prior := r.CaptureBefore(ctx, 8734921)
	require.NotNil(t, prior.Rollup)

	committed := types.CheapestPriceRollup{
		Interior: fp(760), Balcony: fp(1650), Suite: fp(3000), Overall: fp(760),
	}
	require.True(t, r.CommitDelta(ctx, prior, committed, "batch-1"))
	require.Len(t, writer.inserted, 1)

	snap := writer.inserted[0]
	assert.Equal(t, 8734921, snap.SailingID)
	assert.Equal(t, "batch-1", snap.BatchID)
	assert.Equal(t, committed, snap.Rollup)

	require.NotNil(t, snap.Deltas.Interior.Absolute)
	assert.Equal(t, -40.0, *snap.Deltas.Interior.Absolute)
	require.NotNil(t, snap.Deltas.Interior.Percent)
	assert.Equal(t, -5.0, *snap.Deltas.Interior.Percent)

	require.NotNil(t, snap.Deltas.Balcony.Absolute)
	assert.Equal(t, 150.0, *snap.Deltas.Balcony.Absolute)
	assert.Equal(t, 10.0, *snap.Deltas.Balcony.Percent)

	// Suite is new: no prior side, so no delta.
	assert.Nil(t, snap.Deltas.Suite.Absolute)
	assert.Nil(t, snap.Deltas.Suite.Percent)
}

func TestCommitDeltaSkipsUnchangedRollup(t *testing.T) {
	same := types.CheapestPriceRollup{Interior: fp(800), Overall: fp(800)}
	writer := &fakeSnapshotWriter{}
	r := newTestRecorder(&fakeRollupReader{rollup: &same}, writer)
	ctx := context.Background()

	prior := r.CaptureBefore(ctx, 1)
	assert.False(t, r.CommitDelta(ctx, prior, same, "batch-1"),
		"identical rollup should not append a snapshot")
	assert.Empty(t, writer.inserted)
}

func TestCommitDeltaFirstIngestion(t *testing.T) {
	// Never-priced sailing: prior read returns nil rollup, the snapshot is
	// written with no deltas.
	writer := &fakeSnapshotWriter{}
	r := newTestRecorder(&fakeRollupReader{rollup: nil}, writer)
	ctx := context.Background()

	prior := r.CaptureBefore(ctx, 2)
	committed := types.CheapestPriceRollup{Interior: fp(900), Overall: fp(900)}
	require.True(t, r.CommitDelta(ctx, prior, committed, "batch-2"))
	assert.Equal(t, types.SnapshotDeltas{}, writer.inserted[0].Deltas)
}

func TestCaptureBeforeReadFailureIsNotFatal(t *testing.T) {
	writer := &fakeSnapshotWriter{}
	r := newTestRecorder(&fakeRollupReader{err: errors.New("connection refused")}, writer)
	ctx := context.Background()

	prior := r.CaptureBefore(ctx, 3)
	assert.Nil(t, prior.Rollup)

	// The commit still snapshots, just without deltas.
	committed := types.CheapestPriceRollup{Suite: fp(2500), Overall: fp(2500)}
	require.True(t, r.CommitDelta(ctx, prior, committed, "batch-3"))
	assert.Equal(t, types.SnapshotDeltas{}, writer.inserted[0].Deltas)
}

func TestCommitDeltaInsertFailureIsSwallowed(t *testing.T) {
	writer := &fakeSnapshotWriter{err: errors.New("disk full")}
	r := newTestRecorder(&fakeRollupReader{}, writer)
	ctx := context.Background()

	prior := r.CaptureBefore(ctx, 4)
	committed := types.CheapestPriceRollup{Interior: fp(100), Overall: fp(100)}
	assert.False(t, r.CommitDelta(ctx, prior, committed, "batch-4"),
		"failed insert should report false")
}

func TestDeltaForZeroPrior(t *testing.T) {
	d := deltaFor(fp(0), fp(50))
	require.NotNil(t, d.Absolute)
	assert.Equal(t, 50.0, *d.Absolute)
	assert.Nil(t, d.Percent, "percent is undefined against a zero prior")
}
