package types

// CabinCategory is one of the four fixed cabin categories the cheapest-price
// rollup is computed over. Source feeds use a wider variety of cabin type
// labels; the parser maps them onto these four buckets.
type CabinCategory string

const (
	CabinInterior  CabinCategory = "interior"
	CabinOceanview CabinCategory = "oceanview"
	CabinBalcony   CabinCategory = "balcony"
	CabinSuite     CabinCategory = "suite"
)

// AllCabinCategories lists the rollup categories in canonical order.
var AllCabinCategories = []CabinCategory{
	CabinInterior,
	CabinOceanview,
	CabinBalcony,
	CabinSuite,
}

// SyncKind classifies a unit of work produced from an inbound notification.
type SyncKind string

const (
	// SyncLineResync re-ingests every known sailing for a cruise line.
	SyncLineResync SyncKind = "line_resync"
	// SyncTargetedFiles re-ingests an explicit list of file paths.
	SyncTargetedFiles SyncKind = "targeted_files"
)

// BatchStatus is the lifecycle status of an ingestion batch.
// A batch transitions to a terminal status exactly once, when
// completed_units + failed_units == total_units.
type BatchStatus string

const (
	BatchInProgress         BatchStatus = "in_progress"
	BatchComplete           BatchStatus = "complete"
	BatchCompleteWithErrors BatchStatus = "complete_with_errors"
)

// Terminal reports whether the status is one of the two terminal states.
func (s BatchStatus) Terminal() bool {
	return s == BatchComplete || s == BatchCompleteWithErrors
}

// UnitState is a state of the ingestion state machine. States are recorded
// on the unit row for operational visibility; transitions are driven solely
// by the orchestrator.
type UnitState string

const (
	UnitReceived        UnitState = "received"
	UnitLockAcquired    UnitState = "lock_acquired"
	UnitDownloading     UnitState = "downloading"
	UnitParsing         UnitState = "parsing"
	UnitSnapshotCapture UnitState = "snapshot_capture"
	UnitPersisting      UnitState = "persisting"
	UnitCommitted       UnitState = "committed"
	UnitFailed          UnitState = "failed"
)

// Terminal reports whether the state ends the unit's run through the state
// machine. A lock-contended unit is requeued, not terminal.
func (s UnitState) Terminal() bool {
	return s == UnitCommitted || s == UnitFailed
}
