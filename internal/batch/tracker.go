// Package batch tracks the lifecycle of ingestion batches: registration of
// the units spawned by one inbound notification, per-unit completion
// accounting, and the terminal-status transition once every unit is done.
package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"zipsea/internal/db"
	"zipsea/internal/types"
)

// Store is the repository surface the tracker drives. Implemented by
// *db.BatchRepository.
type Store interface {
	CreateBatch(ctx context.Context, batchID string, units []db.UnitSeed, createdAt time.Time) error
	Get(ctx context.Context, batchID string) (*types.IngestionBatch, error)
	SetUnitState(ctx context.Context, unitID string, state types.UnitState, at time.Time) error
	FinishUnit(ctx context.Context, unitID string, success bool, reason string, at time.Time) (bool, error)
	IncrementCounters(ctx context.Context, batchID string, success bool, at time.Time) (*types.IngestionBatch, error)
	ListFailures(ctx context.Context, batchID string) ([]types.UnitFailure, error)
	ListStaleUnits(ctx context.Context, cutoff time.Time, limit int) ([]db.StaleUnit, error)
}

// Transactor runs fn with a Store bound to a single transaction. The unit
// terminal transition and the batch counter increment must commit together,
// otherwise a crash between them strands the batch short of terminal.
type Transactor interface {
	InTx(ctx context.Context, fn func(Store) error) error
}

// PgTransactor is the production Transactor over a pgx pool.
type PgTransactor struct {
	Pool *pgxpool.Pool
}

func (t *PgTransactor) InTx(ctx context.Context, fn func(Store) error) error {
	return db.WithTx(ctx, t.Pool, func(tx pgx.Tx) error {
		return fn(db.NewBatchRepository(tx))
	})
}

// Tracker is the batch accounting service shared by the webhook receiver
// (registration), the sync workers (completion) and the maintenance sweeps
// (stale units).
type Tracker struct {
	store Store
	tx    Transactor
	log   *slog.Logger
	now   func() time.Time
}

// NewTracker creates a Tracker. store is used for single-statement reads and
// writes; tx for the multi-statement completion path.
func NewTracker(store Store, tx Transactor, log *slog.Logger) *Tracker {
	return &Tracker{store: store, tx: tx, log: log, now: time.Now}
}

// Register creates a batch with one unit per seed and returns it. Unit IDs
// are assigned here; callers carry them through the queue so completion can
// address the exact unit row.
func (t *Tracker) Register(ctx context.Context, seeds []db.UnitSeed) (*types.IngestionBatch, []db.UnitSeed, error) {
	batchID := uuid.NewString()
	now := t.now().UTC()

	units := make([]db.UnitSeed, len(seeds))
	for i, s := range seeds {
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		units[i] = s
	}

	err := t.tx.InTx(ctx, func(s Store) error {
		return s.CreateBatch(ctx, batchID, units, now)
	})
	if err != nil {
		return nil, nil, err
	}

	return &types.IngestionBatch{
		ID:         batchID,
		TotalUnits: len(units),
		Status:     types.BatchInProgress,
		CreatedAt:  now,
	}, units, nil
}

// RecordUnitState stamps a non-terminal state transition on the unit.
// Failures here are logged and swallowed; state stamps exist for visibility
// and staleness detection, not correctness.
func (t *Tracker) RecordUnitState(ctx context.Context, unitID string, state types.UnitState) {
	if err := t.store.SetUnitState(ctx, unitID, state, t.now().UTC()); err != nil {
		t.log.WarnContext(ctx, "failed to record unit state",
			slog.String("unit_id", unitID),
			slog.String("state", string(state)),
			slog.String("error", err.Error()))
	}
}

// MarkUnitDone moves a unit to its terminal state and bumps the batch
// counters in one transaction. Marking an already-terminal unit is a no-op
// that returns the current batch, so worker retries and the stale sweep
// cannot double count. Returns the batch after the update.
func (t *Tracker) MarkUnitDone(ctx context.Context, batchID, unitID string, success bool, reason string) (*types.IngestionBatch, error) {
	now := t.now().UTC()

	var result *types.IngestionBatch
	err := t.tx.InTx(ctx, func(s Store) error {
		moved, err := s.FinishUnit(ctx, unitID, success, reason, now)
		if err != nil {
			return err
		}
		if !moved {
			result, err = s.Get(ctx, batchID)
			return err
		}
		result, err = s.IncrementCounters(ctx, batchID, success, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if result.Status.Terminal() {
		t.log.InfoContext(ctx, "batch reached terminal status",
			slog.String("batch_id", result.ID),
			slog.String("status", string(result.Status)),
			slog.Int("completed", result.CompletedUnits),
			slog.Int("failed", result.FailedUnits))
	}
	return result, nil
}

// Status returns a batch and, when it has failures, the failed units with
// their reasons.
func (t *Tracker) Status(ctx context.Context, batchID string) (*types.IngestionBatch, []types.UnitFailure, error) {
	b, err := t.store.Get(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	if b.FailedUnits == 0 {
		return b, nil, nil
	}
	failures, err := t.store.ListFailures(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	return b, failures, nil
}

// SweepStale fails every non-terminal unit that has not moved since the
// horizon, so batches abandoned by a crashed worker still reach a terminal
// status. Returns the number of units failed.
func (t *Tracker) SweepStale(ctx context.Context, horizon time.Duration, limit int) (int, error) {
	cutoff := t.now().UTC().Add(-horizon)
	stale, err := t.store.ListStaleUnits(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, u := range stale {
		_, err := t.MarkUnitDone(ctx, u.BatchID, u.UnitID, false, string(types.ErrCodeUnitUnresponsive))
		if err != nil {
			t.log.ErrorContext(ctx, "failed to sweep stale unit",
				slog.String("unit_id", u.UnitID),
				slog.String("batch_id", u.BatchID),
				slog.String("error", err.Error()))
			continue
		}
		t.log.WarnContext(ctx, "stale unit marked failed",
			slog.String("unit_id", u.UnitID),
			slog.String("batch_id", u.BatchID),
			slog.Time("last_update", u.UpdatedAt))
		swept++
	}
	return swept, nil
}
