package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sweepInterval is how often the in-memory manager evicts expired entries.
// Expired locks are also reclaimable directly by TryAcquire, so the sweep
// only bounds memory growth; correctness does not depend on it.
const sweepInterval = 30 * time.Second

// memoryLock is one held key.
type memoryLock struct {
	holderID  string
	expiresAt time.Time
}

// MemoryManager is an in-process Manager for single-node deployments.
// It is an explicit, constructor-injected object with a New/Close
// lifecycle so tests can run isolated instances.
type MemoryManager struct {
	mu    sync.Mutex
	locks map[string]memoryLock

	now     func() time.Time
	done    chan struct{}
	closeMu sync.Once
}

// NewMemoryManager creates a MemoryManager and starts its TTL sweeper.
func NewMemoryManager() *MemoryManager {
	m := &MemoryManager{
		locks: make(map[string]memoryLock),
		now:   time.Now,
		done:  make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// TryAcquire implements Manager. A held, non-expired key returns
// ErrAlreadyLocked immediately; an expired entry is reclaimed in place.
func (m *MemoryManager) TryAcquire(_ context.Context, key string, ttl time.Duration) (*Handle, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.locks[key]; ok && now.Before(existing.expiresAt) {
		return nil, ErrAlreadyLocked
	}

	holderID := uuid.New().String()
	expiresAt := now.Add(ttl)
	m.locks[key] = memoryLock{holderID: holderID, expiresAt: expiresAt}

	return &Handle{Key: key, HolderID: holderID, ExpiresAt: expiresAt}, nil
}

// Release implements Manager.
func (m *MemoryManager) Release(_ context.Context, h *Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[h.Key]
	if !ok || existing.holderID != h.HolderID {
		return ErrNotHeld
	}
	delete(m.locks, h.Key)
	return nil
}

// Renew implements Manager. Renewal fails with ErrNotHeld once the key has
// expired and been reclaimed, even if the expiry itself has not yet been
// observed by a new acquirer.
func (m *MemoryManager) Renew(_ context.Context, h *Handle, ttl time.Duration) error {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[h.Key]
	if !ok || existing.holderID != h.HolderID || !now.Before(existing.expiresAt) {
		return ErrNotHeld
	}

	existing.expiresAt = now.Add(ttl)
	m.locks[h.Key] = existing
	h.ExpiresAt = existing.expiresAt
	return nil
}

// Ping implements Manager; the in-process store is always reachable.
func (m *MemoryManager) Ping(context.Context) error {
	return nil
}

// Close stops the sweeper. Held locks are dropped with the process.
func (m *MemoryManager) Close() error {
	m.closeMu.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryManager) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *MemoryManager) sweep() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, l := range m.locks {
		if !now.Before(l.expiresAt) {
			delete(m.locks, key)
		}
	}
}
