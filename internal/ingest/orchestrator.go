// Package ingest runs the ingestion state machine. Each unit of work moves
// through Received, LockAcquired, Downloading, Parsing, SnapshotCapture,
// Persisting and Committed, with lock contention requeued and terminal
// failures charged against the unit's batch. A fixed worker pool drives one
// unit per worker at a time.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"zipsea/internal/lock"
	"zipsea/internal/metrics"
	"zipsea/internal/parser"
	"zipsea/internal/queue"
	"zipsea/internal/snapshot"
	"zipsea/internal/types"
)

// Fetcher downloads one file by relative path. Implemented by
// *fileclient.Client.
type Fetcher interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// PathLister enumerates the known source paths of a cruise line, for
// line-wide resyncs. Implemented by *db.ListingRepository.
type PathLister interface {
	ListSourcePathsForLine(ctx context.Context, lineID int) ([]string, error)
}

// Committer applies one sailing's parsed result transactionally: listing
// upsert, grid replace and rollup recompute commit together or not at all.
type Committer interface {
	CommitPricing(ctx context.Context, listing types.CruiseListing, entries map[types.RateKey]types.PriceEntry, rollup types.CheapestPriceRollup, at time.Time) error
}

// UnitTracker is the batch accounting surface the orchestrator reports to.
// Implemented by *batch.Tracker.
type UnitTracker interface {
	RecordUnitState(ctx context.Context, unitID string, state types.UnitState)
	MarkUnitDone(ctx context.Context, batchID, unitID string, success bool, reason string) (*types.IngestionBatch, error)
}

// Recorder captures price history around the pricing commit. Implemented by
// *snapshot.Recorder.
type Recorder interface {
	CaptureBefore(ctx context.Context, sailingID int) snapshot.Prior
	CommitDelta(ctx context.Context, prior snapshot.Prior, committed types.CheapestPriceRollup, batchID string) bool
}

// Config tunes the orchestrator's budgets.
type Config struct {
	// LockTTL must comfortably exceed worst-case download+parse+persist for
	// one unit; long-running holders renew at RenewInterval.
	LockTTL       time.Duration
	RenewInterval time.Duration

	// UnitBudget is the per-unit wall-clock limit.
	UnitBudget time.Duration

	// RequeueDelay and MaxRequeues govern lock-contention requeues.
	RequeueDelay time.Duration
	MaxRequeues  int

	// DownloadConcurrency bounds the fan-out of a line-wide resync. The
	// file client's pool is the hard download bound; this just keeps one
	// resync from monopolizing it.
	DownloadConcurrency int
}

// Orchestrator executes units of work end to end.
type Orchestrator struct {
	locks     lock.Manager
	files     Fetcher
	paths     PathLister
	committer Committer
	recorder  Recorder
	tracker   UnitTracker
	q         queue.Queue
	metrics   metrics.Publisher
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
}

// New creates an Orchestrator.
func New(
	locks lock.Manager,
	files Fetcher,
	paths PathLister,
	committer Committer,
	recorder Recorder,
	tracker UnitTracker,
	q queue.Queue,
	mp metrics.Publisher,
	cfg Config,
	log *slog.Logger,
) *Orchestrator {
	if cfg.DownloadConcurrency <= 0 {
		cfg.DownloadConcurrency = 3
	}
	return &Orchestrator{
		locks:     locks,
		files:     files,
		paths:     paths,
		committer: committer,
		recorder:  recorder,
		tracker:   tracker,
		q:         q,
		metrics:   mp,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// outcome is the terminal result of running one unit's state machine.
type outcome struct {
	// requeued means the unit went back on the queue; no batch counter
	// moves.
	requeued bool
	success  bool
	reason   string
}

func failure(reason string) outcome { return outcome{reason: reason} }

// ProcessDelivery runs one unit to completion: state machine, batch
// accounting and metrics. Transient contention requeues instead of
// completing. The error return is for logging only; the unit's fate is
// already recorded by the time it is non-nil.
func (o *Orchestrator) ProcessDelivery(ctx context.Context, d queue.Delivery) error {
	msg := d.Message
	start := o.now()

	log := o.log.With(
		slog.String("batch_id", msg.BatchID),
		slog.String("unit_id", msg.UnitID),
		slog.String("kind", string(msg.Kind)),
		slog.String("trace_id", msg.TraceID),
	)
	log.InfoContext(ctx, "unit started", slog.Int("attempt", msg.Attempt))

	// The budget covers the whole unit. Lock TTL >= budget is enforced at
	// config load, so a timed-out unit's lock always expires rather than
	// blocking the resource.
	unitCtx, cancel := context.WithTimeout(ctx, o.cfg.UnitBudget)
	defer cancel()

	var res outcome
	switch msg.Kind {
	case types.SyncLineResync:
		res = o.runLineResync(unitCtx, log, msg)
	case types.SyncTargetedFiles:
		res = o.runTargeted(unitCtx, log, msg)
	default:
		res = failure(fmt.Sprintf("%s: unknown sync kind %q", types.ErrCodeValidationInvalidKind, msg.Kind))
	}

	if res.requeued {
		log.InfoContext(ctx, "unit requeued on lock contention",
			slog.Int("attempt", msg.Attempt))
		return nil
	}

	if !res.success && errors.Is(unitCtx.Err(), context.DeadlineExceeded) {
		res.reason = fmt.Sprintf("%s: unit exceeded %s budget", types.ErrCodeUnitTimedOut, o.cfg.UnitBudget)
	}

	// Batch accounting runs on the parent context: the unit's budget being
	// spent must not stop its result from being recorded.
	b, err := o.tracker.MarkUnitDone(ctx, msg.BatchID, msg.UnitID, res.success, res.reason)
	if err != nil {
		log.ErrorContext(ctx, "failed to record unit completion",
			slog.String("error", err.Error()))
		return err
	}

	o.metrics.RecordUnitResult(ctx, res.success, o.now().Sub(start))
	if b.Status.Terminal() {
		o.metrics.RecordBatchTerminal(ctx, b.Status)
	}

	if res.success {
		log.InfoContext(ctx, "unit committed",
			slog.Duration("duration", o.now().Sub(start)))
	} else {
		log.WarnContext(ctx, "unit failed",
			slog.String("reason", res.reason),
			slog.Duration("duration", o.now().Sub(start)))
	}
	return nil
}

// runLineResync holds the cruise-line lock for the whole unit, enumerates
// every known source path for the line, and fans the downloads out. The unit
// succeeds only when every path commits; partially successful sailings stay
// committed either way, since each path's commit is independent and re-reads
// authoritative data.
func (o *Orchestrator) runLineResync(ctx context.Context, log *slog.Logger, msg types.SyncMessage) outcome {
	key := types.LineResourceKey(msg.LineID)
	h, err := o.locks.TryAcquire(ctx, key, o.cfg.LockTTL)
	if err != nil {
		return o.handleLockFailure(ctx, log, msg, key, err)
	}
	o.tracker.RecordUnitState(ctx, msg.UnitID, types.UnitLockAcquired)

	// Release must run even after the budget expires.
	releaseCtx := context.WithoutCancel(ctx)
	defer o.release(releaseCtx, log, h)

	// A line resync can outlive the TTL's comfort margin; renew while it
	// runs.
	stopRenew := o.renewLoop(ctx, log, h)
	defer stopRenew()

	paths, err := o.paths.ListSourcePathsForLine(ctx, msg.LineID)
	if err != nil {
		return failure(fmt.Sprintf("%s: enumerating line %d paths: %v", types.ErrCodePersistFailed, msg.LineID, err))
	}
	if len(paths) == 0 {
		log.InfoContext(ctx, "line resync found no known sailings",
			slog.Int("line_id", msg.LineID))
		return outcome{success: true}
	}

	o.tracker.RecordUnitState(ctx, msg.UnitID, types.UnitDownloading)

	errs := make([]*types.AppError, len(paths))
	g := &errgroup.Group{}
	g.SetLimit(o.cfg.DownloadConcurrency)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			errs[i] = o.processPath(ctx, log, msg, p)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	var first *types.AppError
	for _, e := range errs {
		if e != nil {
			failed++
			if first == nil {
				first = e
			}
		}
	}
	if failed > 0 {
		return failure(fmt.Sprintf("%s (%d of %d paths failed, first: %s)",
			first.Code, failed, len(paths), first.Message))
	}
	return outcome{success: true}
}

// runTargeted processes an explicit path list, locking each sailing
// individually. Contention on any sailing requeues the whole unit; paths
// already committed on a previous attempt simply recommit identical data.
func (o *Orchestrator) runTargeted(ctx context.Context, log *slog.Logger, msg types.SyncMessage) outcome {
	for _, p := range msg.Paths {
		parts, err := types.ParseFilePath(p)
		if err != nil {
			return failure(fmt.Sprintf("%s: %v", types.ErrCodeValidationInvalidPath, err))
		}

		key := types.SailingResourceKey(parts.SailingID)
		h, lockErr := o.locks.TryAcquire(ctx, key, o.cfg.LockTTL)
		if lockErr != nil {
			return o.handleLockFailure(ctx, log, msg, key, lockErr)
		}
		o.tracker.RecordUnitState(ctx, msg.UnitID, types.UnitLockAcquired)

		perr := o.processPath(ctx, log, msg, p)
		o.release(context.WithoutCancel(ctx), log, h)
		if perr != nil {
			return failure(perr.Error())
		}
	}
	return outcome{success: true}
}

// handleLockFailure turns a TryAcquire error into a requeue, a terminal
// failure once the requeue budget is spent, or a failure for an unreachable
// lock backend.
func (o *Orchestrator) handleLockFailure(ctx context.Context, log *slog.Logger, msg types.SyncMessage, key string, err error) outcome {
	if !errors.Is(err, lock.ErrAlreadyLocked) {
		return failure(fmt.Sprintf("%s: acquiring %s: %v", types.ErrCodeLockBackend, key, err))
	}

	if msg.Attempt >= o.cfg.MaxRequeues {
		return failure(fmt.Sprintf("%s: requeue budget exhausted after %d attempts on %s",
			types.ErrCodeLockContended, msg.Attempt, key))
	}

	next := msg
	next.Attempt++
	next.EnqueuedAt = o.now().UTC()
	// Publish on the parent-derived context value but without the unit
	// budget, so a budget expiry cannot lose the requeue.
	if perr := o.q.Publish(context.WithoutCancel(ctx), next, o.cfg.RequeueDelay); perr != nil {
		return failure(fmt.Sprintf("%s: requeueing contended unit: %v", types.ErrCodeQueueBackend, perr))
	}
	return outcome{requeued: true}
}

// processPath runs Downloading through Committed for one source file while
// the caller holds the covering lock.
func (o *Orchestrator) processPath(ctx context.Context, log *slog.Logger, msg types.SyncMessage, path string) *types.AppError {
	o.tracker.RecordUnitState(ctx, msg.UnitID, types.UnitDownloading)
	data, err := o.files.Fetch(ctx, path)
	if err != nil {
		return asAppError(err, types.ErrCodeFetchExhausted)
	}

	o.tracker.RecordUnitState(ctx, msg.UnitID, types.UnitParsing)
	res, err := parser.Parse(data)
	if err != nil {
		return asAppError(err, types.ErrCodeParseInvalid).WithDetails(map[string]any{"path": path})
	}
	res.Listing.SourcePath = path

	rollup := parser.MergeRollup(res.Grid, res.SourceRollup)

	o.tracker.RecordUnitState(ctx, msg.UnitID, types.UnitSnapshotCapture)
	prior := o.recorder.CaptureBefore(ctx, res.Listing.SailingID)

	o.tracker.RecordUnitState(ctx, msg.UnitID, types.UnitPersisting)
	if err := o.committer.CommitPricing(ctx, res.Listing, res.Grid.Entries(), rollup, o.now().UTC()); err != nil {
		return types.NewAppError(types.ErrCodePersistFailed,
			fmt.Sprintf("committing sailing %d", res.Listing.SailingID), err).
			WithDetails(map[string]any{"path": path})
	}

	// History capture is strictly after the commit and never fatal.
	o.recorder.CommitDelta(ctx, prior, rollup, msg.BatchID)

	log.InfoContext(ctx, "sailing committed",
		slog.Int("sailing_id", res.Listing.SailingID),
		slog.Int("line_id", res.Listing.LineID),
		slog.String("path", path),
		slog.Int("grid_entries", res.Grid.Len()))
	return nil
}

// renewLoop extends the lock every RenewInterval until the returned stop
// function runs. A failed renew is logged; the TTL then decides.
func (o *Orchestrator) renewLoop(ctx context.Context, log *slog.Logger, h *lock.Handle) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(o.cfg.RenewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := o.locks.Renew(ctx, h, o.cfg.LockTTL); err != nil {
					log.WarnContext(ctx, "lock renew failed",
						slog.String("key", h.Key),
						slog.String("error", err.Error()))
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { close(done) }
}

func (o *Orchestrator) release(ctx context.Context, log *slog.Logger, h *lock.Handle) {
	if err := o.locks.Release(ctx, h); err != nil && !errors.Is(err, lock.ErrNotHeld) {
		log.WarnContext(ctx, "lock release failed",
			slog.String("key", h.Key),
			slog.String("error", err.Error()))
	}
}

// asAppError coerces an error into a *types.AppError, wrapping stray errors
// under the given fallback code. Component boundaries already return typed
// errors; this is the state machine's belt and braces.
func asAppError(err error, fallback types.ErrorCode) *types.AppError {
	var ae *types.AppError
	if errors.As(err, &ae) {
		return ae
	}
	return types.NewAppError(fallback, err.Error(), err)
}
