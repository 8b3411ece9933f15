package types

import (
	"testing"
	"time"
)

func fp(v float64) *float64 { return &v }

func TestPricingGridRollup(t *testing.T) {
	g := NewPricingGrid()
	g.Put(RateKey{RateCode: "A", CabinCode: "I1", OccupancyCode: "2"},
		PriceEntry{Category: CabinInterior, BasePrice: 850, Available: true})
	g.Put(RateKey{RateCode: "B", CabinCode: "I2", OccupancyCode: "2"},
		PriceEntry{Category: CabinInterior, BasePrice: 799, Available: true})
	g.Put(RateKey{RateCode: "A", CabinCode: "B1", OccupancyCode: "2"},
		PriceEntry{Category: CabinBalcony, BasePrice: 1450, Available: true})
	// Unavailable entries never feed the rollup.
	g.Put(RateKey{RateCode: "A", CabinCode: "S1", OccupancyCode: "2"},
		PriceEntry{Category: CabinSuite, BasePrice: 100, Available: false})
	// Uncategorized entries stay in the grid but feed no bucket.
	g.Put(RateKey{RateCode: "A", CabinCode: "X1", OccupancyCode: "2"},
		PriceEntry{Category: "", BasePrice: 5, Available: true})

	r := g.Rollup()
	if r.Interior == nil || *r.Interior != 799 {
		t.Errorf("interior = %v, want 799", r.Interior)
	}
	if r.Balcony == nil || *r.Balcony != 1450 {
		t.Errorf("balcony = %v, want 1450", r.Balcony)
	}
	if r.Oceanview != nil || r.Suite != nil {
		t.Errorf("oceanview/suite = %v/%v, want nil", r.Oceanview, r.Suite)
	}
	if r.Overall == nil || *r.Overall != 799 {
		t.Errorf("overall = %v, want 799", r.Overall)
	}
}

func TestPricingGridEntriesIsACopy(t *testing.T) {
	g := NewPricingGrid()
	key := RateKey{RateCode: "A", CabinCode: "I1", OccupancyCode: "2"}
	g.Put(key, PriceEntry{BasePrice: 100, Available: true})

	entries := g.Entries()
	entries[key] = PriceEntry{BasePrice: 1}
	if e, _ := g.Get(key); e.BasePrice != 100 {
		t.Error("mutating Entries() result leaked into the grid")
	}
}

func TestRollupEqual(t *testing.T) {
	a := CheapestPriceRollup{Interior: fp(799), Balcony: fp(1450), Overall: fp(799)}
	b := CheapestPriceRollup{Interior: fp(799), Balcony: fp(1450), Overall: fp(799)}
	if !a.Equal(b) {
		t.Error("identical rollups should be equal")
	}

	c := CheapestPriceRollup{Interior: fp(798), Balcony: fp(1450), Overall: fp(798)}
	if a.Equal(c) {
		t.Error("rollups with different values should not be equal")
	}

	d := CheapestPriceRollup{Interior: fp(799), Overall: fp(799)}
	if a.Equal(d) {
		t.Error("nil vs set category should not be equal")
	}
}

func TestPriceEntryTotal(t *testing.T) {
	e := PriceEntry{BasePrice: 899, Taxes: 120.50, Fees: 90, Gratuity: 70}
	if got := e.Total(); got != 1179.50 {
		t.Errorf("Total() = %v, want 1179.50", got)
	}
}

func TestIngestionLockExpired(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	l := IngestionLock{ExpiresAt: now.Add(time.Minute)}
	if l.Expired(now) {
		t.Error("lock with future expiry should not be expired")
	}
	if !l.Expired(now.Add(time.Minute)) {
		t.Error("lock at exact expiry instant should be expired")
	}
}

func TestBatchStatusTerminal(t *testing.T) {
	if BatchInProgress.Terminal() {
		t.Error("in_progress is not terminal")
	}
	if !BatchComplete.Terminal() || !BatchCompleteWithErrors.Terminal() {
		t.Error("complete statuses are terminal")
	}
}

func TestUnitStateTerminal(t *testing.T) {
	for _, s := range []UnitState{UnitReceived, UnitLockAcquired, UnitDownloading, UnitParsing, UnitSnapshotCapture, UnitPersisting} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if !UnitCommitted.Terminal() || !UnitFailed.Terminal() {
		t.Error("committed and failed are terminal")
	}
}
