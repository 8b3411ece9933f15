package types

import (
	"time"
)

// CruiseListing is a single sailing, identified by the stable sailing ID
// assigned by the upstream data provider. The ingestion pipeline is the sole
// writer of listings; the search and booking layers only read them.
type CruiseListing struct {
	SailingID  int       `json:"sailing_id"`
	LineID     int       `json:"line_id"`
	ShipID     int       `json:"ship_id"`
	Name       string    `json:"name"`
	SailDate   time.Time `json:"sail_date"`
	Nights     int       `json:"nights"`
	SourcePath string    `json:"source_path"`
	LastSynced time.Time `json:"last_synced_at"`
}

// RateKey identifies one cell of the pricing grid. The grid holds at most
// one entry per key; inserting an existing key overwrites the prior entry.
type RateKey struct {
	RateCode      string `json:"rate_code"`
	CabinCode     string `json:"cabin_code"`
	OccupancyCode string `json:"occupancy_code"`
}

// PriceEntry is the price for one (rate, cabin, occupancy) cell. All
// monetary values are in the listing currency. An entry with Available set
// to false carries no meaningful prices and is excluded from rollups.
type PriceEntry struct {
	Category  CabinCategory `json:"category"`
	BasePrice float64       `json:"base_price"`
	Taxes     float64       `json:"taxes"`
	Fees      float64       `json:"fees"`
	Gratuity  float64       `json:"gratuity"`
	Available bool          `json:"available"`
}

// Total returns the all-in price for the entry.
func (e PriceEntry) Total() float64 {
	return e.BasePrice + e.Taxes + e.Fees + e.Gratuity
}

// PricingGrid is the full nested pricing structure for one sailing.
// It enforces the at-most-one-entry-per-key invariant by construction.
type PricingGrid struct {
	entries map[RateKey]PriceEntry
}

// NewPricingGrid returns an empty grid.
func NewPricingGrid() *PricingGrid {
	return &PricingGrid{entries: make(map[RateKey]PriceEntry)}
}

// Put inserts or overwrites the entry for the given key.
func (g *PricingGrid) Put(key RateKey, entry PriceEntry) {
	g.entries[key] = entry
}

// Get returns the entry for the key, if present.
func (g *PricingGrid) Get(key RateKey) (PriceEntry, bool) {
	e, ok := g.entries[key]
	return e, ok
}

// Len returns the number of entries in the grid.
func (g *PricingGrid) Len() int {
	return len(g.entries)
}

// Entries returns a copy of the grid contents. Mutating the returned map
// does not affect the grid.
func (g *PricingGrid) Entries() map[RateKey]PriceEntry {
	out := make(map[RateKey]PriceEntry, len(g.entries))
	for k, v := range g.entries {
		out[k] = v
	}
	return out
}

// CheapestFor returns the minimum base price among available entries of the
// given category, or nil when the grid has no available entry in that
// category.
func (g *PricingGrid) CheapestFor(category CabinCategory) *float64 {
	var best *float64
	for _, e := range g.entries {
		if !e.Available || e.Category != category {
			continue
		}
		p := e.BasePrice
		if best == nil || p < *best {
			best = &p
		}
	}
	return best
}

// Rollup derives the cheapest-price rollup from the current grid contents.
// Categories with no available entries are left nil; Overall is the minimum
// of the non-nil category values.
func (g *PricingGrid) Rollup() CheapestPriceRollup {
	r := CheapestPriceRollup{
		Interior:  g.CheapestFor(CabinInterior),
		Oceanview: g.CheapestFor(CabinOceanview),
		Balcony:   g.CheapestFor(CabinBalcony),
		Suite:     g.CheapestFor(CabinSuite),
	}
	r.Overall = minPtr(r.Interior, r.Oceanview, r.Balcony, r.Suite)
	return r
}

// CheapestPriceRollup is the denormalized cheapest-price-per-category
// summary for one listing. It is derived from the pricing grid and must be
// recomputed atomically with every grid overwrite; it is never authoritative
// on its own.
type CheapestPriceRollup struct {
	Interior  *float64 `json:"interior"`
	Oceanview *float64 `json:"oceanview"`
	Balcony   *float64 `json:"balcony"`
	Suite     *float64 `json:"suite"`
	Overall   *float64 `json:"overall"`
}

// For returns the rollup value for a category.
func (r CheapestPriceRollup) For(c CabinCategory) *float64 {
	switch c {
	case CabinInterior:
		return r.Interior
	case CabinOceanview:
		return r.Oceanview
	case CabinBalcony:
		return r.Balcony
	case CabinSuite:
		return r.Suite
	default:
		return nil
	}
}

// Equal reports whether two rollups carry identical values. Used to detect
// no-op ingestions so re-running with identical source data does not append
// duplicate snapshots.
func (r CheapestPriceRollup) Equal(o CheapestPriceRollup) bool {
	for _, c := range AllCabinCategories {
		if !floatPtrEqual(r.For(c), o.For(c)) {
			return false
		}
	}
	return floatPtrEqual(r.Overall, o.Overall)
}

// PriceDelta is the change in one rollup category between two snapshots,
// expressed both as an absolute amount and as a percentage of the prior
// value. Percent is nil when the prior value is absent or zero.
type PriceDelta struct {
	Absolute *float64 `json:"absolute"`
	Percent  *float64 `json:"percent"`
}

// SnapshotDeltas holds the per-category deltas stored alongside a snapshot.
type SnapshotDeltas struct {
	Interior  PriceDelta `json:"interior"`
	Oceanview PriceDelta `json:"oceanview"`
	Balcony   PriceDelta `json:"balcony"`
	Suite     PriceDelta `json:"suite"`
	Overall   PriceDelta `json:"overall"`
}

// PriceSnapshot is an immutable, append-only record of a listing's rollup at
// a point in time. Snapshots are created once per successful ingestion that
// changes pricing and are deleted only by the retention sweep.
type PriceSnapshot struct {
	ID         int64               `json:"id"`
	SailingID  int                 `json:"sailing_id"`
	CapturedAt time.Time           `json:"captured_at"`
	Rollup     CheapestPriceRollup `json:"rollup"`
	Deltas     SnapshotDeltas      `json:"deltas"`
	BatchID    string              `json:"batch_id"`
}

// IngestionLock is the ephemeral mutual-exclusion record for one resource
// key. At most one non-expired lock may exist per key at any time.
type IngestionLock struct {
	Key        string    `json:"key"`
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the lock's TTL has elapsed at the given instant.
func (l IngestionLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// IngestionBatch groups the units of work spawned by a single inbound
// notification. The batch reaches a terminal status exactly when every unit
// has been marked done, successfully or not.
type IngestionBatch struct {
	ID             string      `json:"id"`
	TotalUnits     int         `json:"total_units"`
	CompletedUnits int         `json:"completed_units"`
	FailedUnits    int         `json:"failed_units"`
	Status         BatchStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	FinishedAt     *time.Time  `json:"finished_at,omitempty"`
}

// UnitFailure records one failed unit within a batch, for the batch status
// query surface.
type UnitFailure struct {
	BatchID     string    `json:"batch_id"`
	ResourceKey string    `json:"resource_key"`
	Path        string    `json:"path,omitempty"`
	Reason      string    `json:"reason"`
	FailedAt    time.Time `json:"failed_at"`
}

// minPtr returns a pointer to the minimum of the non-nil inputs, or nil when
// all inputs are nil.
func minPtr(vals ...*float64) *float64 {
	var best *float64
	for _, v := range vals {
		if v == nil {
			continue
		}
		if best == nil || *v < *best {
			p := *v
			best = &p
		}
	}
	return best
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
