// Package lock provides per-resource mutual exclusion for the ingestion
// pipeline. At most one non-expired lock exists per resource key at any
// time; the holder is the only writer for that resource while the lock
// lives. Locks carry a TTL so a crashed holder cannot block a resource
// indefinitely, and TryAcquire never blocks: contended callers requeue.
//
// Two implementations are provided: an in-process TTL mutex map for
// single-node deployments, and a Redis-backed store for multi-worker
// deployments. Both honor the same contract; the orchestrator does not know
// which it is holding.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyLocked is returned by TryAcquire when another holder owns a
// non-expired lock on the key. It is a transient condition: callers enqueue
// or delay, never spin.
var ErrAlreadyLocked = errors.New("lock: resource already locked")

// ErrNotHeld is returned by Release and Renew when the handle no longer
// owns the lock, typically because the TTL expired and another holder
// reclaimed the key.
var ErrNotHeld = errors.New("lock: not held by this handle")

// Handle proves ownership of an acquired lock. It is returned by TryAcquire
// and must be passed back to Release and Renew. The holder ID distinguishes
// this acquisition from any later acquisition of the same key.
type Handle struct {
	Key       string
	HolderID  string
	ExpiresAt time.Time
}

// Manager is the per-resource lock contract.
type Manager interface {
	// TryAcquire attempts to take the lock for key with the given TTL.
	// It returns ErrAlreadyLocked immediately when the key is held and not
	// expired; a stale lock (expired but never released) is implicitly
	// reclaimed. Any other error indicates an unreachable lock backend.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Handle, error)

	// Release frees the lock if the handle still owns it. Releasing an
	// expired or reclaimed handle returns ErrNotHeld.
	Release(ctx context.Context, h *Handle) error

	// Renew extends the lock's expiry by ttl from now, if the handle still
	// owns it. Long-running holders renew periodically so the TTL can stay
	// close to the worst-case unit duration.
	Renew(ctx context.Context, h *Handle, ttl time.Duration) error

	// Ping reports whether the backing store is reachable. Used by the
	// health check: an unreachable lock backend is a fatal-process
	// condition, not a per-unit failure.
	Ping(ctx context.Context) error

	// Close releases the manager's resources.
	Close() error
}
