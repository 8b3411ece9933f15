package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"zipsea/internal/types"
)

// keyPrefix namespaces ingestion lock keys in Redis so they cannot collide
// with other users of the same instance.
const keyPrefix = "zipsea:ingest-lock:"

// releaseScript deletes the key only when the stored holder ID matches the
// caller's. Running as a Lua script keeps the check-and-delete atomic.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the key's TTL only when the stored holder ID matches.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisManager is a Manager backed by a shared Redis instance, for
// deployments where multiple worker processes ingest concurrently.
// Acquisition is a single SET NX PX round trip; expiry is enforced by
// Redis, so stale locks from crashed holders vanish on their own.
type RedisManager struct {
	client *redis.Client
}

// NewRedisManager creates a RedisManager from a Redis URL
// (redis://[:password@]host:port/db).
func NewRedisManager(redisURL string) (*RedisManager, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("lock: invalid redis URL: %w", err)
	}
	return &RedisManager{client: redis.NewClient(opts)}, nil
}

// NewRedisManagerWithClient wraps an existing client, mainly for tests.
func NewRedisManagerWithClient(client *redis.Client) *RedisManager {
	return &RedisManager{client: client}
}

// TryAcquire implements Manager via SET NX PX. Redis evicts expired keys
// itself, so a stale lock is reclaimed simply because SET NX succeeds.
func (m *RedisManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Handle, error) {
	holderID := uuid.New().String()

	ok, err := m.client.SetNX(ctx, keyPrefix+key, holderID, ttl).Result()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeLockBackend,
			"redis lock acquire failed", err)
	}
	if !ok {
		return nil, ErrAlreadyLocked
	}

	return &Handle{
		Key:       key,
		HolderID:  holderID,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

// Release implements Manager with an ownership-checked delete.
func (m *RedisManager) Release(ctx context.Context, h *Handle) error {
	n, err := releaseScript.Run(ctx, m.client, []string{keyPrefix + h.Key}, h.HolderID).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return types.NewAppError(types.ErrCodeLockBackend,
			"redis lock release failed", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Renew implements Manager with an ownership-checked PEXPIRE.
func (m *RedisManager) Renew(ctx context.Context, h *Handle, ttl time.Duration) error {
	n, err := renewScript.Run(ctx, m.client, []string{keyPrefix + h.Key},
		h.HolderID, ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return types.NewAppError(types.ErrCodeLockBackend,
			"redis lock renew failed", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	h.ExpiresAt = time.Now().Add(ttl)
	return nil
}

// Ping implements Manager.
func (m *RedisManager) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return types.NewAppError(types.ErrCodeLockBackend,
			"redis unreachable", err)
	}
	return nil
}

// Close implements Manager.
func (m *RedisManager) Close() error {
	return m.client.Close()
}

// Compile-time interface assertions.
var (
	_ Manager = (*RedisManager)(nil)
	_ Manager = (*MemoryManager)(nil)
)
