package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"zipsea/internal/types"
)

// ListingRepository owns cruise_listings, pricing_grid and
// cheapest_price_rollups. The three tables change together: the orchestrator
// calls UpsertListing, ReplaceGrid and UpsertRollup inside one transaction
// so readers never observe a grid without its matching rollup recompute.
type ListingRepository struct {
	db DBTX
}

// NewListingRepository creates a ListingRepository backed by the given
// database connection (pool or transaction).
func NewListingRepository(db DBTX) *ListingRepository {
	return &ListingRepository{db: db}
}

// UpsertListing inserts or refreshes the listing row and stamps
// last_synced_at. A zero sail date keeps the previously stored value, since
// an unparseable date in one feed export should not erase a known one.
func (r *ListingRepository) UpsertListing(ctx context.Context, l types.CruiseListing, syncedAt time.Time) error {
	var sailDate any
	if !l.SailDate.IsZero() {
		sailDate = l.SailDate
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO cruise_listings
		   (sailing_id, line_id, ship_id, name, sail_date, nights, source_path, last_synced_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (sailing_id) DO UPDATE
		   SET line_id        = EXCLUDED.line_id,
		       ship_id        = EXCLUDED.ship_id,
		       name           = EXCLUDED.name,
		       sail_date      = COALESCE(EXCLUDED.sail_date, cruise_listings.sail_date),
		       nights         = EXCLUDED.nights,
		       source_path    = EXCLUDED.source_path,
		       last_synced_at = EXCLUDED.last_synced_at`,
		l.SailingID, l.LineID, l.ShipID, l.Name, sailDate, l.Nights, l.SourcePath, syncedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert cruise listing", err)
	}
	return nil
}

// ReplaceGrid deletes the sailing's existing grid and inserts the new one.
// Run inside the same transaction as UpsertRollup; the full replace (rather
// than a diff) matches the source-of-truth model where every ingestion
// re-reads authoritative data.
func (r *ListingRepository) ReplaceGrid(ctx context.Context, sailingID int, entries map[types.RateKey]types.PriceEntry) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM pricing_grid WHERE sailing_id = $1`, sailingID); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to clear pricing grid", err)
	}

	for key, e := range entries {
		_, err := r.db.Exec(ctx,
			`INSERT INTO pricing_grid
			   (sailing_id, rate_code, cabin_code, occupancy_code, category,
			    base_price, taxes, fees, gratuity, available)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			sailingID, key.RateCode, key.CabinCode, key.OccupancyCode,
			string(e.Category), e.BasePrice, e.Taxes, e.Fees, e.Gratuity, e.Available,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to insert pricing grid entry", err)
		}
	}
	return nil
}

// UpsertRollup writes the derived cheapest-price rollup for the sailing.
func (r *ListingRepository) UpsertRollup(ctx context.Context, sailingID int, rollup types.CheapestPriceRollup, computedAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO cheapest_price_rollups
		   (sailing_id, interior, oceanview, balcony, suite, overall, computed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (sailing_id) DO UPDATE
		   SET interior    = EXCLUDED.interior,
		       oceanview   = EXCLUDED.oceanview,
		       balcony     = EXCLUDED.balcony,
		       suite       = EXCLUDED.suite,
		       overall     = EXCLUDED.overall,
		       computed_at = EXCLUDED.computed_at`,
		sailingID, rollup.Interior, rollup.Oceanview, rollup.Balcony,
		rollup.Suite, rollup.Overall, computedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert price rollup", err)
	}
	return nil
}

// GetRollup returns the current rollup for a sailing, or nil when the
// sailing has never been priced. The snapshot recorder reads this as the
// prior state before an overwrite.
func (r *ListingRepository) GetRollup(ctx context.Context, sailingID int) (*types.CheapestPriceRollup, error) {
	var rollup types.CheapestPriceRollup
	err := r.db.QueryRow(ctx,
		`SELECT interior, oceanview, balcony, suite, overall
		 FROM cheapest_price_rollups
		 WHERE sailing_id = $1`, sailingID,
	).Scan(&rollup.Interior, &rollup.Oceanview, &rollup.Balcony, &rollup.Suite, &rollup.Overall)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read price rollup", err)
	}
	return &rollup, nil
}

// ListSourcePathsForLine enumerates the known source file paths for every
// sailing of a cruise line. A line-wide resync expands into one unit of
// work per returned path.
func (r *ListingRepository) ListSourcePathsForLine(ctx context.Context, lineID int) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT source_path FROM cruise_listings
		 WHERE line_id = $1
		 ORDER BY sailing_id`, lineID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list source paths", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan source path", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating source paths", err)
	}
	return paths, nil
}
