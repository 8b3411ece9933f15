// Package fileclient downloads cruise data files from the remote file
// server through a small, bounded connection pool. All resilience lives
// here: retry with exponential backoff on connection-level failures,
// replacement of faulty connections, and a circuit breaker that stops
// hammering a server that is down. Callers see either bytes or a terminal
// typed error; exhausted retries mark the unit failed and the file becomes
// eligible for a later resync.
package fileclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"zipsea/internal/types"
)

// RetryPolicy configures the per-fetch retry behavior.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries for one path, first attempt
	// included.
	MaxAttempts int
	// BaseWait is the delay before the first retry; each subsequent retry
	// doubles it, clamped to MaxWait.
	BaseWait time.Duration
	MaxWait  time.Duration
}

// DefaultRetryPolicy mirrors the provider's observed tolerance: three
// attempts, 500ms base, 5s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseWait:    500 * time.Millisecond,
		MaxWait:     5 * time.Second,
	}
}

// backoff returns the wait before retry number attempt (0-based).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	wait := p.BaseWait
	for i := 0; i < attempt; i++ {
		wait *= 2
		if wait >= p.MaxWait {
			return p.MaxWait
		}
	}
	if wait > p.MaxWait {
		return p.MaxWait
	}
	return wait
}

// Config configures a Client.
type Config struct {
	// PoolSize bounds concurrent downloads. Fetch queues when all
	// connections are busy rather than opening more: the provider enforces
	// a per-account connection budget.
	PoolSize int
	Retry    RetryPolicy
	// DownloadTimeout bounds one attempt for one file. It is independent
	// of, and much shorter than, the unit's overall wall-clock budget.
	DownloadTimeout time.Duration
}

// Client is the pooled file retrieval client. It must be constructed with
// New and closed with Close; there is no package-level instance.
type Client struct {
	dialer  Dialer
	retry   RetryPolicy
	timeout time.Duration

	// slots holds the idle connections. Capacity is the pool size; a nil
	// entry means the slot is free but unconnected (dial on demand).
	slots chan Conn

	breaker *gobreaker.CircuitBreaker[[]byte]
	sleepFn func(time.Duration)
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithSleepFunc overrides the sleep between retries, for tests.
func WithSleepFunc(fn func(time.Duration)) Option {
	return func(c *Client) { c.sleepFn = fn }
}

// New creates a Client over the given dialer. Connections are dialed
// lazily: the pool starts with empty slots and fills as fetches run.
func New(cfg Config, dialer Dialer, opts ...Option) *Client {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 3
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 30 * time.Second
	}

	slots := make(chan Conn, cfg.PoolSize)
	for i := 0; i < cfg.PoolSize; i++ {
		slots <- nil
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "file-server",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	c := &Client{
		dialer:  dialer,
		retry:   cfg.Retry,
		timeout: cfg.DownloadTimeout,
		slots:   slots,
		breaker: cb,
		sleepFn: time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch downloads one file by relative path. It blocks while the pool is
// saturated, then runs up to MaxAttempts attempts with exponential backoff.
// A connection that fails at the transport level is discarded and replaced;
// it is never returned to the pool. The returned error is always a
// *types.AppError and is terminal for the unit.
func (c *Client) Fetch(ctx context.Context, path string) ([]byte, error) {
	// Acquire a pool slot; this is the download-concurrency bound.
	var conn Conn
	select {
	case conn = <-c.slots:
	case <-ctx.Done():
		return nil, types.NewAppError(types.ErrCodeFetchTimeout,
			"cancelled while waiting for a file server connection", ctx.Err())
	}

	data, conn, err := c.fetchWithRetries(ctx, conn, path)

	// Return whatever connection state survived to the pool; nil means the
	// slot is free and the next fetch dials fresh.
	c.slots <- conn

	return data, err
}

// fetchWithRetries runs the attempt loop. It returns the surviving conn
// (nil if the last one was discarded) along with the result.
func (c *Client) fetchWithRetries(ctx context.Context, conn Conn, path string) ([]byte, Conn, error) {
	var lastErr error

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := c.retry.backoff(attempt - 1)
			select {
			case <-ctx.Done():
				return nil, conn, types.NewAppError(types.ErrCodeFetchTimeout,
					"cancelled between download attempts", ctx.Err())
			default:
			}
			c.sleepFn(wait)
		}

		// Dial on demand for an empty slot or after a discarded conn.
		if conn == nil {
			var err error
			conn, err = c.dialer.Dial(ctx)
			if err != nil {
				lastErr = err
				continue
			}
		}

		data, err := c.breaker.Execute(func() ([]byte, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return conn.Fetch(attemptCtx, path)
		})
		if err == nil {
			return data, conn, nil
		}
		lastErr = err

		// Circuit open: the server is down for everyone; stop retrying
		// this unit immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, conn, types.NewAppError(types.ErrCodeUpstreamUnavailable,
				"file server circuit breaker is open", err)
		}

		var se *statusError
		if errors.As(err, &se) {
			if !se.retryable() {
				// 4xx: the path is gone or never existed. Terminal without
				// burning the remaining attempts.
				if se.status == http.StatusNotFound {
					return nil, conn, types.NewAppError(types.ErrCodeFetchExhausted,
						"file not found on server", err).WithDetails(map[string]any{"path": path})
				}
				return nil, conn, types.NewAppError(types.ErrCodeFetchExhausted,
					"file server rejected the request", err).WithDetails(map[string]any{"path": path})
			}
			// Retryable status: the conn itself is healthy, keep it.
			continue
		}

		// Connection-level failure (reset, broken socket, timeout): the
		// conn is poisoned. Discard it so the next attempt dials fresh.
		_ = conn.Close()
		conn = nil
	}

	return nil, conn, types.NewAppError(types.ErrCodeFetchExhausted,
		"download retries exhausted", lastErr).WithDetails(map[string]any{
		"path":     path,
		"attempts": c.retry.MaxAttempts,
	})
}

// Ping verifies the file server is reachable by dialing a connection.
func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			"file server unreachable", err)
	}
	return conn.Close()
}

// Close drains and closes all pooled connections.
func (c *Client) Close() error {
	for i := 0; i < cap(c.slots); i++ {
		conn := <-c.slots
		if conn != nil {
			_ = conn.Close()
		}
	}
	close(c.slots)
	return nil
}
