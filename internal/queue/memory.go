package queue

import (
	"context"
	"sync"
	"time"

	"zipsea/internal/types"
)

// MemoryQueue is an in-process Queue for tests and single-node deployments.
// Delayed publishes are held on timers until visible. At-most-once: there is
// no redelivery of unacked messages, so the stale-unit sweep is the safety
// net when a worker dies mid-unit.
type MemoryQueue struct {
	ch chan Delivery

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

// NewMemoryQueue creates a MemoryQueue with the given buffer size.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer < 1 {
		buffer = 1
	}
	return &MemoryQueue{
		ch:     make(chan Delivery, buffer),
		timers: make(map[*time.Timer]struct{}),
	}
}

// Publish enqueues the message, after delay when non-zero. Publishing to a
// full buffer reports the queue backend as unavailable rather than blocking
// the receiver's request path.
func (q *MemoryQueue) Publish(ctx context.Context, msg types.SyncMessage, delay time.Duration) error {
	d := Delivery{Message: msg, Enqueued: time.Now().UTC()}

	if delay <= 0 {
		return q.deliver(d)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return types.NewAppError(types.ErrCodeQueueBackend, "memory queue closed", nil)
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, t)
		q.mu.Unlock()
		_ = q.deliver(d)
	})
	q.timers[t] = struct{}{}
	q.mu.Unlock()
	return nil
}

// deliver performs a non-blocking send. The lock is held across the send so
// a concurrent Close cannot close the channel underneath it.
func (q *MemoryQueue) deliver(d Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return types.NewAppError(types.ErrCodeQueueBackend, "memory queue closed", nil)
	}

	select {
	case q.ch <- d:
		return nil
	default:
		return types.NewAppError(types.ErrCodeQueueBackend, "memory queue buffer full", nil)
	}
}

// Receive blocks for the first message, then drains without blocking up to
// max.
func (q *MemoryQueue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max < 1 {
		max = 1
	}

	var out []Delivery
	select {
	case d, ok := <-q.ch:
		if !ok {
			return nil, types.NewAppError(types.ErrCodeQueueBackend, "memory queue closed", nil)
		}
		out = append(out, d)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for len(out) < max {
		select {
		case d, ok := <-q.ch:
			if !ok {
				return out, nil
			}
			out = append(out, d)
		default:
			return out, nil
		}
	}
	return out, nil
}

// Ack is a no-op; the memory queue hands each message out exactly once.
func (q *MemoryQueue) Ack(ctx context.Context, d Delivery) error { return nil }

// Ping reports healthy unless closed.
func (q *MemoryQueue) Ping(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return types.NewAppError(types.ErrCodeQueueBackend, "memory queue closed", nil)
	}
	return nil
}

// Close stops pending delayed publishes and closes the channel.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = nil
	close(q.ch)
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
