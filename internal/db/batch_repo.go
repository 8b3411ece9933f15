package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"zipsea/internal/types"
)

// BatchRepository owns ingestion_batches and ingestion_units. Batches are
// write-once in shape (total_units never changes); only the counters and
// status move, and only forward.
type BatchRepository struct {
	db DBTX
}

// NewBatchRepository creates a BatchRepository backed by the given database
// connection (pool or transaction).
func NewBatchRepository(db DBTX) *BatchRepository {
	return &BatchRepository{db: db}
}

// UnitSeed describes one unit to register alongside its batch.
type UnitSeed struct {
	ID          string
	ResourceKey string
	Path        string
}

// CreateBatch inserts the batch row and its unit rows. Call inside a
// transaction so a batch can never exist with half its units.
func (r *BatchRepository) CreateBatch(ctx context.Context, batchID string, units []UnitSeed, createdAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO ingestion_batches (id, total_units, status, created_at)
		 VALUES ($1, $2, $3, $4)`,
		batchID, len(units), string(types.BatchInProgress), createdAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create ingestion batch", err)
	}

	for _, u := range units {
		_, err := r.db.Exec(ctx,
			`INSERT INTO ingestion_units (id, batch_id, resource_key, path, state, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			u.ID, batchID, u.ResourceKey, u.Path, string(types.UnitReceived), createdAt)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to create ingestion unit", err)
		}
	}
	return nil
}

// Get returns one batch by ID, or a not-found AppError.
func (r *BatchRepository) Get(ctx context.Context, batchID string) (*types.IngestionBatch, error) {
	var b types.IngestionBatch
	var status string
	err := r.db.QueryRow(ctx,
		`SELECT id, total_units, completed_units, failed_units, status, created_at, finished_at
		 FROM ingestion_batches WHERE id = $1`, batchID,
	).Scan(&b.ID, &b.TotalUnits, &b.CompletedUnits, &b.FailedUnits, &status, &b.CreatedAt, &b.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundBatch, "batch not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read ingestion batch", err)
	}
	b.Status = types.BatchStatus(status)
	return &b, nil
}

// SetUnitState records a state-machine transition on the unit row for
// operational visibility. Terminal transitions go through FinishUnit, not
// here.
func (r *BatchRepository) SetUnitState(ctx context.Context, unitID string, state types.UnitState, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE ingestion_units SET state = $2, updated_at = $3
		 WHERE id = $1 AND state NOT IN ($4, $5)`,
		unitID, string(state), at, string(types.UnitCommitted), string(types.UnitFailed))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update unit state", err)
	}
	return nil
}

// FinishUnit moves the unit to its terminal state. It returns false when
// the unit was already terminal, which makes double completion (a worker
// retry racing the stale sweep) a no-op instead of a double count.
func (r *BatchRepository) FinishUnit(ctx context.Context, unitID string, success bool, reason string, at time.Time) (bool, error) {
	state := types.UnitCommitted
	if !success {
		state = types.UnitFailed
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE ingestion_units SET state = $2, reason = $3, updated_at = $4
		 WHERE id = $1 AND state NOT IN ($5, $6)`,
		unitID, string(state), reason, at,
		string(types.UnitCommitted), string(types.UnitFailed))
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to finish ingestion unit", err)
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementCounters bumps the batch's completed or failed counter and
// transitions the batch to its terminal status when the counters reach the
// total. The whole move is one atomic UPDATE, so concurrent unit
// completions cannot lose increments or double-transition.
func (r *BatchRepository) IncrementCounters(ctx context.Context, batchID string, success bool, at time.Time) (*types.IngestionBatch, error) {
	completedInc, failedInc := 0, 0
	if success {
		completedInc = 1
	} else {
		failedInc = 1
	}

	var b types.IngestionBatch
	var status string
	err := r.db.QueryRow(ctx,
		`UPDATE ingestion_batches SET
		   completed_units = completed_units + $2,
		   failed_units    = failed_units + $3,
		   status = CASE
		     WHEN completed_units + failed_units + 1 >= total_units THEN
		       CASE WHEN failed_units + $3 > 0 THEN $4 ELSE $5 END
		     ELSE status
		   END,
		   finished_at = CASE
		     WHEN completed_units + failed_units + 1 >= total_units THEN $6
		     ELSE finished_at
		   END
		 WHERE id = $1
		 RETURNING id, total_units, completed_units, failed_units, status, created_at, finished_at`,
		batchID, completedInc, failedInc,
		string(types.BatchCompleteWithErrors), string(types.BatchComplete), at,
	).Scan(&b.ID, &b.TotalUnits, &b.CompletedUnits, &b.FailedUnits, &status, &b.CreatedAt, &b.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundBatch, "batch not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to increment batch counters", err)
	}
	b.Status = types.BatchStatus(status)
	return &b, nil
}

// ListFailures returns the failed units of a batch with their reasons, for
// the batch status query surface.
func (r *BatchRepository) ListFailures(ctx context.Context, batchID string) ([]types.UnitFailure, error) {
	rows, err := r.db.Query(ctx,
		`SELECT batch_id, resource_key, path, reason, updated_at
		 FROM ingestion_units
		 WHERE batch_id = $1 AND state = $2
		 ORDER BY updated_at`, batchID, string(types.UnitFailed))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list unit failures", err)
	}
	defer rows.Close()

	var failures []types.UnitFailure
	for rows.Next() {
		var f types.UnitFailure
		if err := rows.Scan(&f.BatchID, &f.ResourceKey, &f.Path, &f.Reason, &f.FailedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan unit failure", err)
		}
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating unit failures", err)
	}
	return failures, nil
}

// StaleUnit identifies a non-terminal unit that stopped moving, for the
// maintenance sweep.
type StaleUnit struct {
	UnitID    string
	BatchID   string
	UpdatedAt time.Time
}

// ListStaleUnits returns non-terminal units that have not moved since the
// cutoff. The maintenance sweep fails them so their batches can still reach
// a terminal status after a worker crash.
func (r *BatchRepository) ListStaleUnits(ctx context.Context, cutoff time.Time, limit int) ([]StaleUnit, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, batch_id, updated_at
		 FROM ingestion_units
		 WHERE state NOT IN ($1, $2) AND updated_at < $3
		 ORDER BY updated_at
		 LIMIT $4`,
		string(types.UnitCommitted), string(types.UnitFailed), cutoff, limit)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list stale units", err)
	}
	defer rows.Close()

	var stale []StaleUnit
	for rows.Next() {
		var u StaleUnit
		if err := rows.Scan(&u.UnitID, &u.BatchID, &u.UpdatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan stale unit", err)
		}
		stale = append(stale, u)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating stale units", err)
	}
	return stale, nil
}
