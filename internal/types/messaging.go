package types

import "time"

// SyncMessage is the unit-of-work envelope carried on the work queue. One
// classified notification produces one or more SyncMessages, all sharing a
// batch ID. JSON tags use snake_case to match the notification receiver's
// wire format.
type SyncMessage struct {
	// UnitID identifies this unit within its batch.
	UnitID string `json:"unit_id"`
	// BatchID ties the unit back to its IngestionBatch.
	BatchID string `json:"batch_id"`

	// Kind selects between a line-wide resync and a targeted file list.
	Kind SyncKind `json:"kind"`
	// LineID is set for line_resync units.
	LineID int `json:"line_id,omitempty"`
	// Paths is set for targeted_files units. Each path follows the
	// {year}/{month}/{lineId}/{shipId}/{sailingId}.json convention.
	Paths []string `json:"paths,omitempty"`

	// Attempt counts requeues caused by lock contention. It is carried
	// across the publish-subscribe cycle so a unit cannot requeue forever.
	Attempt int `json:"attempt"`

	// EnqueuedAt is the publish time, used for queue-lag metrics.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// TraceID propagates through logs for cross-process correlation.
	TraceID string `json:"trace_id"`
}

// ResourceKey returns the lock scope for the unit: a line-wide resync locks
// the whole cruise line, a targeted unit locks each individual sailing as it
// is processed.
func (m SyncMessage) ResourceKey() string {
	if m.Kind == SyncLineResync {
		return LineResourceKey(m.LineID)
	}
	return ""
}
