package ingest

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"zipsea/internal/metrics"
	"zipsea/internal/queue"
)

// receiveBackoff is the pause after a queue receive failure. An unreachable
// queue is a fatal-process condition surfaced by the health check; the
// workers just stop pulling until it recovers.
const receiveBackoff = 5 * time.Second

// Pool is the fixed-size worker pool. Each worker runs one unit's state
// machine to completion before taking the next; the pool size bounds total
// parallel ingestions, independently of the file client's download bound.
type Pool struct {
	q       queue.Queue
	orch    *Orchestrator
	workers int
	metrics metrics.Publisher
	log     *slog.Logger
}

// NewPool creates a worker pool of the given size.
func NewPool(q queue.Queue, orch *Orchestrator, workers int, mp metrics.Publisher, log *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{q: q, orch: orch, workers: workers, metrics: mp, log: log}
}

// Run blocks until ctx is cancelled, then returns once every worker has
// finished its in-flight unit.
func (p *Pool) Run(ctx context.Context) error {
	p.log.InfoContext(ctx, "worker pool starting", slog.Int("workers", p.workers))

	g := &errgroup.Group{}
	for i := 0; i < p.workers; i++ {
		id := i
		g.Go(func() error {
			p.runWorker(ctx, id)
			return nil
		})
	}
	err := g.Wait()
	p.log.Info("worker pool stopped")
	return err
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	log := p.log.With(slog.Int("worker", id))
	for {
		deliveries, err := p.q.Receive(ctx, 1)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.ErrorContext(ctx, "queue receive failed, backing off",
				slog.String("error", err.Error()))
			select {
			case <-time.After(receiveBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, d := range deliveries {
			if !d.Enqueued.IsZero() {
				p.metrics.RecordQueueLag(ctx, time.Since(d.Enqueued))
			}

			_ = p.orch.ProcessDelivery(ctx, d)

			// Ack regardless of outcome: terminal failures are recorded in
			// the batch, and contended units were republished. Redelivery
			// would only repeat work that is idempotent anyway.
			if err := p.q.Ack(ctx, d); err != nil {
				log.WarnContext(ctx, "failed to ack delivery",
					slog.String("unit_id", d.Message.UnitID),
					slog.String("error", err.Error()))
			}
		}
	}
}
