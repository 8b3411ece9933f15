// Package parser turns raw cruise data files into the canonical in-memory
// representation: listing metadata, the rate/cabin/occupancy pricing grid,
// and the cheapest-price rollup. The upstream feed is loosely typed, so the
// decode layer tolerates missing optional fields, numeric strings, and the
// scalar-vs-object metadata anomaly; anything it cannot coerce is skipped
// rather than fatal. A ParseError is terminal for that one file only.
package parser

import (
	"encoding/json"
	"fmt"
	"time"

	"zipsea/internal/types"
)

// sailDateLayout is the date format used by the upstream feed.
const sailDateLayout = "2006-01-02"

// Result is the canonical output of parsing one sailing file.
type Result struct {
	Listing types.CruiseListing
	Grid    *types.PricingGrid

	// SourceRollup is the provider's own pre-computed cheapest-price
	// summary, when present. It is not authoritative: the committed rollup
	// is recomputed from the grid, falling back to these values only for
	// categories the grid has no entries for.
	SourceRollup *types.CheapestPriceRollup
}

// Parse decodes and normalizes one sailing file. The returned error is
// always a *types.AppError with a parse error code; it marks the unit
// failed without affecting sibling units.
func Parse(data []byte) (*Result, error) {
	var doc rawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, types.NewAppError(types.ErrCodeParseInvalid,
			"document is not valid JSON", err)
	}

	listing, err := buildListing(&doc)
	if err != nil {
		return nil, err
	}

	if len(doc.Prices) == 0 {
		return nil, types.NewAppError(types.ErrCodeParseNoPricing,
			fmt.Sprintf("sailing %d has no pricing grid", listing.SailingID), nil)
	}

	grid := buildGrid(doc.Prices, listing.LineID)
	if grid.Len() == 0 {
		return nil, types.NewAppError(types.ErrCodeParseNoPricing,
			fmt.Sprintf("sailing %d pricing grid decoded to zero usable entries", listing.SailingID), nil)
	}

	return &Result{
		Listing:      listing,
		Grid:         grid,
		SourceRollup: buildSourceRollup(doc.Cheapest, listing.LineID),
	}, nil
}

// buildListing extracts and validates the sailing metadata. The sailing,
// line, and ship identifiers are the only hard requirements; everything
// else degrades to zero values.
func buildListing(doc *rawDocument) (types.CruiseListing, error) {
	if doc.SailingID == nil || *doc.SailingID <= 0 {
		return types.CruiseListing{}, types.NewAppError(types.ErrCodeParseInvalid,
			"document is missing codetocruiseid", nil)
	}
	if doc.LineID == nil || *doc.LineID <= 0 {
		return types.CruiseListing{}, types.NewAppError(types.ErrCodeParseInvalid,
			"document is missing lineid", nil)
	}
	if doc.ShipID == nil || *doc.ShipID <= 0 {
		return types.CruiseListing{}, types.NewAppError(types.ErrCodeParseInvalid,
			"document is missing shipid", nil)
	}

	listing := types.CruiseListing{
		SailingID: int(*doc.SailingID),
		LineID:    int(*doc.LineID),
		ShipID:    int(*doc.ShipID),
	}

	if doc.Name != nil {
		listing.Name = *doc.Name
	} else if doc.ShipContent != nil && doc.ShipContent.Name != "" {
		// Some exports omit the top-level name; the ship content block is
		// the next best label.
		listing.Name = doc.ShipContent.Name
	}

	if doc.Nights != nil && *doc.Nights > 0 {
		listing.Nights = int(*doc.Nights)
	}

	if doc.SailDate != nil {
		if d, err := time.Parse(sailDateLayout, *doc.SailDate); err == nil {
			listing.SailDate = d
		}
		// An unparseable sail date is absent, not fatal: the listing keeps
		// its previous date on commit.
	}

	return listing, nil
}
