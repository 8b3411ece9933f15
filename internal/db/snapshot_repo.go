package db

import (
	"context"
	"time"

	"zipsea/internal/types"
)

// SnapshotRepository owns the append-only price_snapshots table. Rows are
// inserted once per pricing-changing ingestion and deleted only by the
// retention sweep; nothing ever updates one.
type SnapshotRepository struct {
	db DBTX
}

// NewSnapshotRepository creates a SnapshotRepository backed by the given
// database connection (pool or transaction).
func NewSnapshotRepository(db DBTX) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Insert appends one snapshot.
func (r *SnapshotRepository) Insert(ctx context.Context, s types.PriceSnapshot) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO price_snapshots
		   (sailing_id, captured_at, batch_id,
		    interior, oceanview, balcony, suite, overall,
		    interior_delta, interior_delta_pct,
		    oceanview_delta, oceanview_delta_pct,
		    balcony_delta, balcony_delta_pct,
		    suite_delta, suite_delta_pct,
		    overall_delta, overall_delta_pct)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
		         $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		s.SailingID, s.CapturedAt, s.BatchID,
		s.Rollup.Interior, s.Rollup.Oceanview, s.Rollup.Balcony, s.Rollup.Suite, s.Rollup.Overall,
		s.Deltas.Interior.Absolute, s.Deltas.Interior.Percent,
		s.Deltas.Oceanview.Absolute, s.Deltas.Oceanview.Percent,
		s.Deltas.Balcony.Absolute, s.Deltas.Balcony.Percent,
		s.Deltas.Suite.Absolute, s.Deltas.Suite.Percent,
		s.Deltas.Overall.Absolute, s.Deltas.Overall.Percent,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert price snapshot", err)
	}
	return nil
}

// LatestForSailing returns the most recent snapshot for a sailing, or nil
// when the sailing has no price history yet.
func (r *SnapshotRepository) LatestForSailing(ctx context.Context, sailingID int) (*types.PriceSnapshot, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, sailing_id, captured_at, batch_id,
		        interior, oceanview, balcony, suite, overall,
		        interior_delta, interior_delta_pct,
		        oceanview_delta, oceanview_delta_pct,
		        balcony_delta, balcony_delta_pct,
		        suite_delta, suite_delta_pct,
		        overall_delta, overall_delta_pct
		 FROM price_snapshots
		 WHERE sailing_id = $1
		 ORDER BY captured_at DESC
		 LIMIT 1`, sailingID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query latest snapshot", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var s types.PriceSnapshot
	if err := rows.Scan(&s.ID, &s.SailingID, &s.CapturedAt, &s.BatchID,
		&s.Rollup.Interior, &s.Rollup.Oceanview, &s.Rollup.Balcony,
		&s.Rollup.Suite, &s.Rollup.Overall,
		&s.Deltas.Interior.Absolute, &s.Deltas.Interior.Percent,
		&s.Deltas.Oceanview.Absolute, &s.Deltas.Oceanview.Percent,
		&s.Deltas.Balcony.Absolute, &s.Deltas.Balcony.Percent,
		&s.Deltas.Suite.Absolute, &s.Deltas.Suite.Percent,
		&s.Deltas.Overall.Absolute, &s.Deltas.Overall.Percent); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan snapshot", err)
	}
	return &s, nil
}

// DeleteOlderThan removes snapshots captured before the cutoff, at most
// limit rows per call so the sweep never takes long locks on a large table.
// Returns the number of rows deleted; the sweep loops until zero.
func (r *SnapshotRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM price_snapshots
		 WHERE id IN (
		   SELECT id FROM price_snapshots
		   WHERE captured_at < $1
		   ORDER BY captured_at
		   LIMIT $2
		 )`, cutoff, limit)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to sweep price snapshots", err)
	}
	return int(tag.RowsAffected()), nil
}
