// Package snapshot records the price history of listings. Every ingestion
// that changes a listing's cheapest-price rollup appends one immutable
// snapshot with per-category deltas against the prior rollup.
package snapshot

import (
	"context"
	"log/slog"
	"time"

	"zipsea/internal/types"
)

// rollupReader is the slice of the listing repository the recorder needs.
type rollupReader interface {
	GetRollup(ctx context.Context, sailingID int) (*types.CheapestPriceRollup, error)
}

// snapshotWriter is the slice of the snapshot repository the recorder needs.
type snapshotWriter interface {
	Insert(ctx context.Context, s types.PriceSnapshot) error
}

// Recorder captures price snapshots around pricing commits. History capture
// is deliberately best-effort: a snapshot failure must never block the
// pricing write it describes, because a fresh price with a gap in its
// history beats a stale price with perfect history.
type Recorder struct {
	rollups   rollupReader
	snapshots snapshotWriter
	log       *slog.Logger
	now       func() time.Time
}

// NewRecorder creates a Recorder over the given repositories.
func NewRecorder(rollups rollupReader, snapshots snapshotWriter, log *slog.Logger) *Recorder {
	return &Recorder{
		rollups:   rollups,
		snapshots: snapshots,
		log:       log,
		now:       time.Now,
	}
}

// Prior is the pre-commit rollup state read by CaptureBefore. Nil Rollup
// means the sailing had never been priced.
type Prior struct {
	SailingID int
	Rollup    *types.CheapestPriceRollup
}

// CaptureBefore reads the sailing's current rollup before the pricing
// transaction overwrites it. A read failure is reported but not fatal; the
// caller proceeds and the snapshot for this ingestion records no deltas.
func (r *Recorder) CaptureBefore(ctx context.Context, sailingID int) Prior {
	prior, err := r.rollups.GetRollup(ctx, sailingID)
	if err != nil {
		r.log.WarnContext(ctx, "failed to read prior rollup, snapshot will omit deltas",
			slog.Int("sailing_id", sailingID),
			slog.String("error", err.Error()))
		return Prior{SailingID: sailingID}
	}
	return Prior{SailingID: sailingID, Rollup: prior}
}

// CommitDelta appends a snapshot of the freshly committed rollup with deltas
// against the prior state. A snapshot identical to the prior rollup is
// skipped so re-ingesting unchanged source data does not grow the history.
// Returns true when a snapshot was written. Insert failures are logged and
// swallowed.
func (r *Recorder) CommitDelta(ctx context.Context, prior Prior, committed types.CheapestPriceRollup, batchID string) bool {
	if prior.Rollup != nil && committed.Equal(*prior.Rollup) {
		return false
	}

	snap := types.PriceSnapshot{
		SailingID:  prior.SailingID,
		CapturedAt: r.now().UTC(),
		Rollup:     committed,
		Deltas:     computeDeltas(prior.Rollup, committed),
		BatchID:    batchID,
	}
	if err := r.snapshots.Insert(ctx, snap); err != nil {
		r.log.ErrorContext(ctx, "failed to append price snapshot",
			slog.Int("sailing_id", prior.SailingID),
			slog.String("batch_id", batchID),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

// computeDeltas derives per-category deltas of the new rollup against the
// prior one. With no prior rollup every delta is absent.
func computeDeltas(prior *types.CheapestPriceRollup, next types.CheapestPriceRollup) types.SnapshotDeltas {
	if prior == nil {
		return types.SnapshotDeltas{}
	}
	return types.SnapshotDeltas{
		Interior:  deltaFor(prior.Interior, next.Interior),
		Oceanview: deltaFor(prior.Oceanview, next.Oceanview),
		Balcony:   deltaFor(prior.Balcony, next.Balcony),
		Suite:     deltaFor(prior.Suite, next.Suite),
		Overall:   deltaFor(prior.Overall, next.Overall),
	}
}

// deltaFor computes one category delta. Both sides must be present for an
// absolute delta; the prior value must additionally be non-zero for a
// percentage.
func deltaFor(prior, next *float64) types.PriceDelta {
	if prior == nil || next == nil {
		return types.PriceDelta{}
	}
	abs := *next - *prior
	d := types.PriceDelta{Absolute: &abs}
	if *prior != 0 {
		pct := abs / *prior * 100
		d.Percent = &pct
	}
	return d
}
