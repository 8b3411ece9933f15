package parser

import (
	"strings"

	"zipsea/internal/types"
)

// ScaledPriceLineID is the one line operator whose feed expresses prices in
// a thousandth-of-currency unit. A raw value of 1091180 from this operator
// means 1091.18; the same value from any other operator is already in
// currency units. The transform is keyed strictly on the operator id and
// must never be applied generally.
const ScaledPriceLineID = 643

// priceScaleDivisor converts the anomalous operator's raw unit to currency.
const priceScaleDivisor = 1000.0

// normalizePrice applies the per-operator unit transform.
func normalizePrice(raw float64, lineID int) float64 {
	if lineID == ScaledPriceLineID {
		return raw / priceScaleDivisor
	}
	return raw
}

// buildGrid flattens the nested rate/cabin/occupancy structure into the
// canonical grid. Insertion overwrites on duplicate keys, so the grid holds
// at most one entry per key tuple regardless of feed duplication.
func buildGrid(prices map[string]map[string]map[string]rawPriceCell, lineID int) *types.PricingGrid {
	grid := types.NewPricingGrid()

	for rateCode, cabins := range prices {
		for cabinCode, occupancies := range cabins {
			for occCode, cell := range occupancies {
				entry, ok := normalizeCell(cell, lineID)
				if !ok {
					continue
				}
				grid.Put(types.RateKey{
					RateCode:      rateCode,
					CabinCode:     cabinCode,
					OccupancyCode: occCode,
				}, entry)
			}
		}
	}

	return grid
}

// normalizeCell converts one raw leaf into a grid entry. Cells with no
// price at all are dropped. A negative price marks the entry unavailable
// rather than carrying a nonsense value: every committed leaf is either
// non-negative or explicitly unavailable.
func normalizeCell(cell rawPriceCell, lineID int) (types.PriceEntry, bool) {
	if cell.Price == nil {
		return types.PriceEntry{}, false
	}

	entry := types.PriceEntry{
		Category:  cabinCategory(cell.CabinType),
		BasePrice: normalizePrice(float64(*cell.Price), lineID),
		Available: true,
	}
	if cell.Available != nil {
		entry.Available = bool(*cell.Available)
	}
	if cell.Taxes != nil {
		entry.Taxes = normalizePrice(float64(*cell.Taxes), lineID)
	}
	if cell.Fees != nil {
		entry.Fees = normalizePrice(float64(*cell.Fees), lineID)
	}
	if cell.Gratuity != nil {
		entry.Gratuity = normalizePrice(float64(*cell.Gratuity), lineID)
	}

	if entry.BasePrice < 0 || entry.Taxes < 0 || entry.Fees < 0 || entry.Gratuity < 0 {
		entry.BasePrice, entry.Taxes, entry.Fees, entry.Gratuity = 0, 0, 0, 0
		entry.Available = false
	}

	return entry, true
}

// cabinCategory maps the feed's cabin type labels onto the four rollup
// buckets. Unrecognized labels stay in the grid but are excluded from every
// rollup category.
func cabinCategory(cabinType *string) types.CabinCategory {
	if cabinType == nil {
		return ""
	}
	switch strings.ToLower(strings.TrimSpace(*cabinType)) {
	case "inside", "interior":
		return types.CabinInterior
	case "outside", "oceanview", "ocean view":
		return types.CabinOceanview
	case "balcony", "veranda":
		return types.CabinBalcony
	case "suite":
		return types.CabinSuite
	default:
		return ""
	}
}

// buildSourceRollup converts the provider's optional pre-computed cheapest
// block, applying the same per-operator unit transform as the grid.
func buildSourceRollup(raw *rawCheapest, lineID int) *types.CheapestPriceRollup {
	if raw == nil {
		return nil
	}

	conv := func(f *flexFloat) *float64 {
		if f == nil {
			return nil
		}
		v := normalizePrice(float64(*f), lineID)
		if v < 0 {
			return nil
		}
		return &v
	}

	r := &types.CheapestPriceRollup{
		Interior:  conv(raw.Inside),
		Oceanview: conv(raw.Outside),
		Balcony:   conv(raw.Balcony),
		Suite:     conv(raw.Suite),
		Overall:   conv(raw.Cheapest),
	}
	if r.Interior == nil && r.Oceanview == nil && r.Balcony == nil && r.Suite == nil && r.Overall == nil {
		return nil
	}
	return r
}

// MergeRollup recomputes the rollup from the grid, falling back to the
// source's pre-computed values only for categories the grid cannot answer.
// The source rollup is never trusted over a grid-derived value.
func MergeRollup(grid *types.PricingGrid, source *types.CheapestPriceRollup) types.CheapestPriceRollup {
	r := grid.Rollup()
	if source == nil {
		return r
	}
	if r.Interior == nil {
		r.Interior = source.Interior
	}
	if r.Oceanview == nil {
		r.Oceanview = source.Oceanview
	}
	if r.Balcony == nil {
		r.Balcony = source.Balcony
	}
	if r.Suite == nil {
		r.Suite = source.Suite
	}
	// Overall is always re-derived so it stays consistent with whatever
	// per-category values survive the merge.
	r.Overall = minRollup(r)
	return r
}

func minRollup(r types.CheapestPriceRollup) *float64 {
	var best *float64
	for _, c := range types.AllCabinCategories {
		v := r.For(c)
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
