package ingest

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"zipsea/internal/db"
	"zipsea/internal/types"
)

// PgCommitter is the production Committer. One sailing's listing upsert,
// grid replace and rollup recompute share a transaction, so readers never
// observe a grid without its matching rollup.
type PgCommitter struct {
	Pool *pgxpool.Pool
}

func (c *PgCommitter) CommitPricing(ctx context.Context, listing types.CruiseListing, entries map[types.RateKey]types.PriceEntry, rollup types.CheapestPriceRollup, at time.Time) error {
	return db.WithTx(ctx, c.Pool, func(tx pgx.Tx) error {
		repo := db.NewListingRepository(tx)
		if err := repo.UpsertListing(ctx, listing, at); err != nil {
			return err
		}
		if err := repo.ReplaceGrid(ctx, listing.SailingID, entries); err != nil {
			return err
		}
		return repo.UpsertRollup(ctx, listing.SailingID, rollup, at)
	})
}

var _ Committer = (*PgCommitter)(nil)
