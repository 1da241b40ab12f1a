package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/catalogsync/backend/internal/domain/shared"
	"github.com/catalogsync/backend/internal/domain/staging"
	"github.com/catalogsync/backend/internal/infrastructure/monitor"
	"github.com/catalogsync/backend/internal/infrastructure/remote"
)

// RemotePort is the slice of the client pool the executor depends on.
// The pool retries transient failures internally; by the time Execute
// returns an error the item's retry budget is spent.
type RemotePort interface {
	Execute(ctx context.Context, req *remote.Request) (*remote.Response, error)
	PredictCost(req *remote.Request) int
}

// ExecutorConfig tunes the batch executor
type ExecutorConfig struct {
	// BatchSize caps the number of changes per sub-batch
	BatchSize int
	// MaxWorkers bounds concurrently executing sub-batches
	MaxWorkers int
	// CostCeiling caps the predicted remote cost a sub-batch may accumulate
	CostCeiling int
	// CheckpointInterval persists resume state every N completed sub-batches
	CheckpointInterval int
	// Timeout is the wall-clock ceiling for one Run call
	Timeout time.Duration
	// PollInterval paces the dispatcher's control-state checks while paused
	PollInterval time.Duration
}

// applyDefaults fills zero fields with production defaults
func (c *ExecutorConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.CostCeiling <= 0 {
		c.CostCeiling = 1000
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
}

// Executor applies a batch of approved staged changes to the remote platform
// with bounded parallelism, partial-failure isolation, cooperative
// pause/cancel, and checkpointed resume.
type Executor struct {
	changeRepo  staging.StagedChangeRepository
	batchRepo   staging.SyncBatchRepository
	checkpoints staging.CheckpointStore
	remote      RemotePort
	perf        *monitor.Monitor
	bus         shared.EventBus
	config      ExecutorConfig
	logger      *zap.Logger
}

// NewExecutor creates an executor. perf and bus may be nil.
func NewExecutor(
	changeRepo staging.StagedChangeRepository,
	batchRepo staging.SyncBatchRepository,
	checkpoints staging.CheckpointStore,
	remotePort RemotePort,
	perf *monitor.Monitor,
	bus shared.EventBus,
	config ExecutorConfig,
	logger *zap.Logger,
) *Executor {
	config.applyDefaults()
	return &Executor{
		changeRepo:  changeRepo,
		batchRepo:   batchRepo,
		checkpoints: checkpoints,
		remote:      remotePort,
		perf:        perf,
		bus:         bus,
		config:      config,
		logger:      logger,
	}
}

// itemOutcome classifies one change's result inside a sub-batch
type itemOutcome int

const (
	outcomeApplied itemOutcome = iota
	outcomeFailed
	// outcomeSkipped covers ordering-gate requeues, lost CAS races and
	// timeout leftovers; the change stays resumable, neither succeeded
	// nor failed
	outcomeSkipped
)

// subBatchResult is one worker's report for a completed sub-batch
type subBatchResult struct {
	succeeded  int
	failed     int
	skipped    int
	itemErrors []staging.ItemError
	applied    []uuid.UUID
}

// RecoverInterrupted returns batches left running by a previous engine
// process to created so the next poll resumes them. Call it before the poll
// loop starts; at that point a persisted running status is always stale.
func (e *Executor) RecoverInterrupted(ctx context.Context) (int, error) {
	running := staging.BatchStatusRunning
	batches, err := e.batchRepo.Find(ctx, staging.BatchFilter{Status: &running})
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, batch := range batches {
		if err := batch.Recover(); err != nil {
			continue
		}
		if err := e.batchRepo.Save(ctx, batch); err != nil {
			return recovered, err
		}
		e.logger.Info("recovered interrupted batch",
			zap.String("batch_id", batch.ID.String()),
			zap.Int("processed", batch.Processed),
		)
		recovered++
	}
	return recovered, nil
}

// Run executes a batch to a terminal state. Per-item failures never abort
// siblings; a timeout leaves unprocessed changes resumable and returns
// shared.ErrBatchTimeout wrapped with the batch id.
func (e *Executor) Run(ctx context.Context, batchID uuid.UUID) (*staging.SyncBatch, error) {
	batch, err := e.batchRepo.FindByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := batch.Start(); err != nil {
		return nil, err
	}
	if err := e.batchRepo.Save(ctx, batch); err != nil {
		return nil, err
	}

	pending, checkpoint, err := e.loadWork(ctx, batchID)
	if err != nil {
		return nil, err
	}

	subBatches := e.partition(pending)
	e.logger.Info("batch run starting",
		zap.String("batch_id", batchID.String()),
		zap.Int("changes", len(pending)),
		zap.Int("sub_batches", len(subBatches)),
		zap.Int("max_workers", e.config.MaxWorkers),
	)
	e.recordGauge(ctx, monitor.MetricQueueDepth, float64(len(pending)))

	runCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	results := e.dispatch(runCtx, batchID, subBatches)

	appliedIDs := checkpoint.AppliedChangeIDs
	completedSubBatches := checkpoint.CompletedSubBatches
	var processed, failed int
	for res := range results {
		completedSubBatches++
		processed += res.succeeded + res.failed
		failed += res.failed
		appliedIDs = append(appliedIDs, res.applied...)

		if err := e.batchRepo.IncrementCounters(ctx, batchID, staging.CounterDelta{
			Processed: res.succeeded + res.failed,
			Succeeded: res.succeeded,
			Failed:    res.failed,
			Errors:    res.itemErrors,
		}); err != nil {
			e.logger.Error("failed to record sub-batch counters",
				zap.String("batch_id", batchID.String()),
				zap.Error(err),
			)
		}

		e.reportProgress(ctx, batchID)
		e.recordGauge(ctx, monitor.MetricQueueDepth, float64(len(pending)-processed))
		if processed > 0 {
			e.recordGauge(ctx, monitor.MetricErrorRate, float64(failed)/float64(processed))
		}

		if completedSubBatches%e.config.CheckpointInterval == 0 {
			e.saveCheckpoint(ctx, batchID, completedSubBatches, appliedIDs)
		}
	}

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	if ctx.Err() != nil {
		return batch, ctx.Err()
	}

	return e.finalize(ctx, batchID, timedOut, completedSubBatches, appliedIDs)
}

// loadWork collects the batch's still-approved changes minus everything the
// checkpoint already saw. A missing checkpoint yields a zero value.
func (e *Executor) loadWork(ctx context.Context, batchID uuid.UUID) ([]*staging.StagedChange, staging.Checkpoint, error) {
	changes, err := e.changeRepo.FindByBatch(ctx, batchID)
	if err != nil {
		return nil, staging.Checkpoint{}, err
	}

	checkpoint := staging.Checkpoint{BatchID: batchID}
	if e.checkpoints != nil {
		stored, err := e.checkpoints.Load(ctx, batchID)
		if err != nil {
			e.logger.Warn("checkpoint load failed, starting from scratch",
				zap.String("batch_id", batchID.String()),
				zap.Error(err),
			)
		} else if stored != nil {
			checkpoint = *stored
		}
	}

	var pending []*staging.StagedChange
	for _, c := range changes {
		if c.Status != staging.ChangeStatusApproved {
			continue
		}
		if checkpoint.Contains(c.ID) {
			continue
		}
		pending = append(pending, c)
	}
	return pending, checkpoint, nil
}

// partition splits the change list into sub-batches bounded by both the
// configured size and the cost model's predicted ceiling
func (e *Executor) partition(changes []*staging.StagedChange) [][]*staging.StagedChange {
	var subBatches [][]*staging.StagedChange
	var current []*staging.StagedChange
	currentCost := 0

	for _, change := range changes {
		itemCost := e.remote.PredictCost(buildRequest(change))
		if len(current) > 0 && (len(current) >= e.config.BatchSize || currentCost+itemCost > e.config.CostCeiling) {
			subBatches = append(subBatches, current)
			current = nil
			currentCost = 0
		}
		current = append(current, change)
		currentCost += itemCost
	}
	if len(current) > 0 {
		subBatches = append(subBatches, current)
	}
	return subBatches
}

// dispatch feeds sub-batches to the worker pool, consulting the persisted
// batch status before each one: paused batches hold dispatch, cancelled
// batches stop it, in-flight sub-batches always drain.
func (e *Executor) dispatch(ctx context.Context, batchID uuid.UUID, subBatches [][]*staging.StagedChange) <-chan subBatchResult {
	jobs := make(chan []*staging.StagedChange)
	results := make(chan subBatchResult)

	var wg sync.WaitGroup
	for i := 0; i < e.config.MaxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sb := range jobs {
				results <- e.processSubBatch(ctx, sb)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, sb := range subBatches {
			if !e.awaitDispatchable(ctx, batchID) {
				return
			}
			select {
			case jobs <- sb:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// awaitDispatchable blocks while the batch is paused and reports whether the
// next sub-batch may be dispatched
func (e *Executor) awaitDispatchable(ctx context.Context, batchID uuid.UUID) bool {
	for {
		batch, err := e.batchRepo.FindByID(ctx, batchID)
		if err != nil {
			e.logger.Error("batch status check failed", zap.String("batch_id", batchID.String()), zap.Error(err))
			return false
		}
		switch batch.Status {
		case staging.BatchStatusRunning:
			return true
		case staging.BatchStatusPaused:
			select {
			case <-time.After(e.config.PollInterval):
			case <-ctx.Done():
				return false
			}
		default:
			// Terminal (operator cancel): stop scheduling, drain in-flight
			return false
		}
	}
}

// processSubBatch applies each change in order; a timeout mid-sub-batch
// leaves the remaining items untouched and resumable
func (e *Executor) processSubBatch(ctx context.Context, subBatch []*staging.StagedChange) subBatchResult {
	var res subBatchResult
	for _, change := range subBatch {
		if ctx.Err() != nil {
			res.skipped += len(subBatch) - res.succeeded - res.failed - res.skipped
			break
		}
		switch outcome, itemErr := e.applyChange(ctx, change); outcome {
		case outcomeApplied:
			res.succeeded++
			res.applied = append(res.applied, change.ID)
		case outcomeFailed:
			res.failed++
			if itemErr != nil {
				res.itemErrors = append(res.itemErrors, *itemErr)
			}
		case outcomeSkipped:
			res.skipped++
		}
	}
	return res
}

// applyChange pushes one staged change to the remote platform. Status
// transitions go through compare-and-set so concurrent workers can never
// both win the same change.
func (e *Executor) applyChange(ctx context.Context, change *staging.StagedChange) (itemOutcome, *staging.ItemError) {
	// Ordering gate: a lower version for the same entity still outstanding
	// means this change must wait for a later run
	outstanding, err := e.changeRepo.HasEarlierOutstanding(ctx, change)
	if err != nil {
		e.logger.Error("ordering check failed", zap.String("change_id", change.ID.String()), zap.Error(err))
		return outcomeSkipped, nil
	}
	if outstanding {
		e.logger.Debug("change deferred behind earlier version",
			zap.String("entity_id", change.EntityID),
			zap.Int64("version", change.Version),
		)
		return outcomeSkipped, nil
	}

	// Conflict gate holds even here: approval should have filtered these,
	// but an unresolved change never reaches the platform
	if change.HasConflicts {
		return e.failChange(ctx, change, "conflict", "change has unresolved conflicts")
	}

	start := time.Now()
	_, err = e.remote.Execute(ctx, buildRequest(change))
	elapsed := time.Since(start)
	e.recordGauge(ctx, monitor.MetricOperationLatency, elapsed.Seconds())
	e.recordGauge(ctx, monitor.MetricRemoteLatency, elapsed.Seconds())

	if err != nil {
		if ctx.Err() != nil {
			// Timeout, not item failure: the change stays resumable
			return outcomeSkipped, nil
		}
		return e.failChange(ctx, change, errorKind(err), err.Error())
	}

	// Single-winner apply: losing the CAS means another worker already
	// transitioned this change
	if casErr := e.changeRepo.CASStatus(ctx, change.ID, staging.ChangeStatusApproved, staging.ChangeStatusApplied); casErr != nil {
		if errors.Is(casErr, staging.ErrStaleStatus) {
			return outcomeSkipped, nil
		}
		e.logger.Error("apply transition failed", zap.String("change_id", change.ID.String()), zap.Error(casErr))
		return outcomeSkipped, nil
	}

	// Stamp the timestamp on the winning copy; the status is already applied
	if err := change.MarkApplied(); err == nil {
		if err := e.changeRepo.Save(ctx, change); err != nil {
			e.logger.Warn("failed to stamp applied change", zap.String("change_id", change.ID.String()), zap.Error(err))
		}
	}

	e.publish(ctx, staging.NewChangeAppliedEvent(change))
	return outcomeApplied, nil
}

// failChange records a terminal per-item failure, isolated from siblings
func (e *Executor) failChange(ctx context.Context, change *staging.StagedChange, kind, message string) (itemOutcome, *staging.ItemError) {
	if casErr := e.changeRepo.CASStatus(ctx, change.ID, change.Status, staging.ChangeStatusFailed); casErr != nil {
		if errors.Is(casErr, staging.ErrStaleStatus) {
			return outcomeSkipped, nil
		}
		e.logger.Error("fail transition failed", zap.String("change_id", change.ID.String()), zap.Error(casErr))
		return outcomeSkipped, nil
	}

	if err := change.MarkFailed(message); err == nil {
		if err := e.changeRepo.Save(ctx, change); err != nil {
			e.logger.Warn("failed to record failure message", zap.String("change_id", change.ID.String()), zap.Error(err))
		}
	}

	e.publish(ctx, staging.NewChangeFailedEvent(change))
	return outcomeFailed, &staging.ItemError{
		ChangeID:  change.ID,
		EntityID:  change.EntityID,
		ErrorKind: kind,
		Message:   message,
	}
}

// reportProgress publishes the batch's fresh counters after a sub-batch
func (e *Executor) reportProgress(ctx context.Context, batchID uuid.UUID) {
	batch, err := e.batchRepo.FindByID(ctx, batchID)
	if err != nil {
		return
	}
	e.publish(ctx, staging.NewBatchProgressEvent(batch))
}

// saveCheckpoint persists the resume state; failures are logged, never fatal
func (e *Executor) saveCheckpoint(ctx context.Context, batchID uuid.UUID, completed int, applied []uuid.UUID) {
	if e.checkpoints == nil {
		return
	}
	err := e.checkpoints.Save(ctx, &staging.Checkpoint{
		BatchID:             batchID,
		CompletedSubBatches: completed,
		AppliedChangeIDs:    applied,
		UpdatedAt:           time.Now(),
	})
	if err != nil {
		e.logger.Warn("checkpoint save failed", zap.String("batch_id", batchID.String()), zap.Error(err))
	}
}

// finalize settles the batch's terminal state once every dispatched
// sub-batch has reported
func (e *Executor) finalize(ctx context.Context, batchID uuid.UUID, timedOut bool, completed int, applied []uuid.UUID) (*staging.SyncBatch, error) {
	batch, err := e.batchRepo.FindByID(ctx, batchID)
	if err != nil {
		return nil, err
	}

	switch {
	case batch.Status == staging.BatchStatusCancelled:
		// Operator cancel already persisted the terminal state; the drained
		// sub-batch results above are still recorded
		e.saveCheckpoint(ctx, batchID, completed, applied)
	case timedOut:
		if err := batch.TimeOut(); err == nil {
			if err := e.batchRepo.Save(ctx, batch); err != nil {
				return nil, err
			}
		}
		e.saveCheckpoint(ctx, batchID, completed, applied)
		e.publish(ctx, staging.NewBatchCompletedEvent(batch))
		return batch, fmt.Errorf("%w: batch %s", shared.ErrBatchTimeout, batchID)
	default:
		if err := batch.Complete(); err == nil {
			if err := e.batchRepo.Save(ctx, batch); err != nil {
				return nil, err
			}
		}
		// A cleanly finished batch no longer needs resume state
		if e.checkpoints != nil {
			if err := e.checkpoints.Delete(ctx, batchID); err != nil {
				e.logger.Warn("checkpoint delete failed", zap.String("batch_id", batchID.String()), zap.Error(err))
			}
		}
	}

	e.publish(ctx, staging.NewBatchCompletedEvent(batch))
	e.logger.Info("batch run finished",
		zap.String("batch_id", batchID.String()),
		zap.String("status", batch.Status.String()),
		zap.Int("succeeded", batch.Succeeded),
		zap.Int("failed", batch.Failed),
	)
	return batch, nil
}

// recordGauge feeds the performance monitor when one is wired
func (e *Executor) recordGauge(ctx context.Context, metricType monitor.MetricType, value float64) {
	if e.perf == nil {
		return
	}
	if err := e.perf.Record(ctx, metricType, value, nil); err != nil {
		e.logger.Warn("metric recording failed", zap.String("metric_type", metricType.String()), zap.Error(err))
	}
}

// publish emits a notification when a bus is wired; delivery is best-effort
func (e *Executor) publish(ctx context.Context, event shared.DomainEvent) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, event); err != nil {
		e.logger.Warn("event publish failed", zap.String("event_type", event.EventType()), zap.Error(err))
	}
}

// errorKind maps a remote error to the taxonomy carried on item errors
func errorKind(err error) string {
	switch {
	case errors.Is(err, remote.ErrRejected):
		return "rejected"
	case errors.Is(err, remote.ErrThrottled):
		return "throttled"
	case errors.Is(err, remote.ErrUnavailable):
		return "transient"
	default:
		return "unknown"
	}
}

// buildRequest renders a staged change as the platform mutation applying it
func buildRequest(change *staging.StagedChange) *remote.Request {
	entity := change.EntityType.String()

	switch change.ChangeType {
	case staging.ChangeTypeDelete:
		return &remote.Request{
			Query:     fmt.Sprintf("mutation %sDelete($id: ID!) { %sDelete(id: $id) { deletedId } }", entity, entity),
			Variables: map[string]any{"id": change.EntityID},
		}
	case staging.ChangeTypeCreate:
		return &remote.Request{
			Query:     fmt.Sprintf("mutation %sCreate($input: %sInput!) { %sCreate(input: $input) { id } }", entity, titleCase(entity), entity),
			Variables: map[string]any{"input": change.ProposedData},
		}
	default:
		// update and restore both land as an update of the proposed state
		return &remote.Request{
			Query:     fmt.Sprintf("mutation %sUpdate($id: ID!, $input: %sInput!) { %sUpdate(id: $id, input: $input) { id } }", entity, titleCase(entity), entity),
			Variables: map[string]any{"id": change.EntityID, "input": change.ProposedData},
		}
	}
}

// titleCase uppercases the first byte of an ASCII identifier
func titleCase(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
