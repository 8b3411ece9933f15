// Package queue provides the sync-message transport between the webhook
// receiver and the ingestion workers. Production uses SQS; tests and
// single-process deployments use the in-memory backend.
package queue

import (
	"context"
	"time"

	"zipsea/internal/types"
)

// Delivery is one received sync message plus the handle needed to settle it.
type Delivery struct {
	Message types.SyncMessage
	// ReceiptHandle identifies the in-flight receive for Ack. Empty for the
	// memory backend.
	ReceiptHandle string
	// Enqueued is when the transport accepted the message, used for queue
	// lag metrics. Zero when the transport does not report it.
	Enqueued time.Time
}

// Queue is the transport interface. Publish with a non-zero delay defers
// visibility, which is how lock-contended units are requeued without
// blocking a worker.
type Queue interface {
	Publish(ctx context.Context, msg types.SyncMessage, delay time.Duration) error
	// Receive blocks until at least one message is available or ctx is done.
	Receive(ctx context.Context, max int) ([]Delivery, error)
	// Ack settles a delivery so the transport stops redelivering it.
	Ack(ctx context.Context, d Delivery) error
	// Ping verifies the transport is reachable, for health checks.
	Ping(ctx context.Context) error
	Close() error
}
