package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/catalogsync/backend/internal/domain/approval"
	"github.com/catalogsync/backend/internal/domain/conflict"
	"github.com/catalogsync/backend/internal/domain/shared"
	"github.com/catalogsync/backend/internal/domain/staging"
)

// maxVersionRetries bounds how often staging retries a version allocation
// that lost to a concurrent writer on the unique (entity, version) index
const maxVersionRetries = 3

// EntityLoader fetches the live snapshot of a catalog entity. nil values
// mean the entity does not exist yet.
type EntityLoader interface {
	LoadEntity(ctx context.Context, entityType staging.EntityType, entityID string) (map[string]any, error)
}

// Service coordinates staging, conflict detection, approval and batch
// assembly. All collaborators are injected; the service holds no global
// state of its own.
type Service struct {
	changeRepo staging.StagedChangeRepository
	batchRepo  staging.SyncBatchRepository
	detector   *conflict.Detector
	approval   *approval.Engine
	loader     EntityLoader
	bus        shared.EventBus
	logger     *zap.Logger
}

// NewService creates a sync service. loader and bus may be nil: without a
// loader the caller-supplied snapshot is the only comparison base, and
// without a bus no notifications are emitted.
func NewService(
	changeRepo staging.StagedChangeRepository,
	batchRepo staging.SyncBatchRepository,
	detector *conflict.Detector,
	approvalEngine *approval.Engine,
	loader EntityLoader,
	bus shared.EventBus,
	logger *zap.Logger,
) *Service {
	return &Service{
		changeRepo: changeRepo,
		batchRepo:  batchRepo,
		detector:   detector,
		approval:   approvalEngine,
		loader:     loader,
		bus:        bus,
		logger:     logger,
	}
}

// Stage runs the full intake pipeline for one proposed change: snapshot the
// live record, diff, detect conflicts, attempt auto-resolution, evaluate the
// approval policy, and persist under a fresh per-entity version.
func (s *Service) Stage(ctx context.Context, req StageChangeRequest) (*ChangeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}

	currentData := req.CurrentData
	if currentData == nil && s.loader != nil {
		loaded, err := s.loader.LoadEntity(ctx, staging.EntityType(req.EntityType), req.EntityID)
		if err != nil {
			return nil, fmt.Errorf("failed to load entity %s/%s: %w", req.EntityType, req.EntityID, err)
		}
		currentData = loaded
	}

	change, err := staging.NewStagedChange(
		staging.EntityType(req.EntityType),
		req.EntityID,
		staging.ChangeType(req.ChangeType),
		currentData,
		req.ProposedData,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	change.BatchID = req.BatchID

	s.detectConflicts(change)

	if !change.HasConflicts {
		if ok, reason := s.approval.CanAutoApprove(change); ok {
			if err := change.Approve(true); err != nil {
				return nil, err
			}
		} else {
			s.logger.Debug("change held for review",
				zap.String("entity_id", change.EntityID),
				zap.String("reason", reason),
			)
		}
	}

	if err := s.saveWithFreshVersion(ctx, change); err != nil {
		return nil, err
	}

	s.publish(ctx, staging.NewChangeStagedEvent(change))

	resp := ToChangeResponse(change)
	return &resp, nil
}

// detectConflicts diffs the proposed snapshot against the live record and
// applies whatever resolution the detector can produce on its own
func (s *Service) detectConflicts(change *staging.StagedChange) {
	if change.ChangeType == staging.ChangeTypeCreate || len(change.CurrentData) == 0 {
		return
	}

	c := s.detector.Detect(change.ProposedData, change.CurrentData)
	if c == nil {
		return
	}

	change.MarkConflicts(c.FieldNames())

	if !c.AutoResolved {
		return
	}
	resolution := make(map[string]any, len(c.Details))
	for _, detail := range c.Details {
		resolution[detail.FieldName] = detail.ResolvedValue
	}
	if err := change.ResolveConflicts(resolution); err != nil {
		s.logger.Warn("auto-resolution failed",
			zap.String("entity_id", change.EntityID),
			zap.Error(err),
		)
	}
}

// saveWithFreshVersion allocates a version and persists. A concurrent
// allocator for the same entity collides on the unique (entity, version)
// index; the loser re-allocates and tries again.
func (s *Service) saveWithFreshVersion(ctx context.Context, change *staging.StagedChange) error {
	var lastErr error
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		version, err := s.changeRepo.NextVersion(ctx, change.EntityType, change.EntityID)
		if err != nil {
			return err
		}
		change.Version = version
		if err := s.changeRepo.Save(ctx, change); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %v", shared.ErrVersionConflict, lastErr)
}

// GetChange returns one staged change
func (s *Service) GetChange(ctx context.Context, id uuid.UUID) (*ChangeResponse, error) {
	change, err := s.changeRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToChangeResponse(change)
	return &resp, nil
}

// ListChanges returns staged changes matching the filter
func (s *Service) ListChanges(ctx context.Context, filter staging.ChangeFilter) ([]ChangeResponse, error) {
	changes, err := s.changeRepo.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]ChangeResponse, len(changes))
	for i, c := range changes {
		out[i] = ToChangeResponse(c)
	}
	return out, nil
}

// Approve clears a pending change for execution after human review
func (s *Service) Approve(ctx context.Context, id uuid.UUID) (*ChangeResponse, error) {
	change, err := s.changeRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := change.Approve(false); err != nil {
		return nil, err
	}
	if err := s.changeRepo.Save(ctx, change); err != nil {
		return nil, err
	}
	resp := ToChangeResponse(change)
	return &resp, nil
}

// Reject declines a pending change
func (s *Service) Reject(ctx context.Context, id uuid.UUID) (*ChangeResponse, error) {
	change, err := s.changeRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := change.Reject(); err != nil {
		return nil, err
	}
	if err := s.changeRepo.Save(ctx, change); err != nil {
		return nil, err
	}
	resp := ToChangeResponse(change)
	return &resp, nil
}

// ResolveConflict overwrites the conflicting fields with the reviewer's
// chosen values and clears the conflict gate. The change returns to the
// normal approval path afterwards.
func (s *Service) ResolveConflict(ctx context.Context, req ResolveConflictRequest) (*ChangeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}

	change, err := s.changeRepo.FindByID(ctx, req.ChangeID)
	if err != nil {
		return nil, err
	}
	if err := change.ResolveConflicts(req.ResolutionValues); err != nil {
		return nil, err
	}
	if err := s.changeRepo.Save(ctx, change); err != nil {
		return nil, err
	}

	s.logger.Info("conflict resolved",
		zap.String("change_id", change.ID.String()),
		zap.String("entity_id", change.EntityID),
		zap.String("resolved_by", req.ResolvedBy),
	)

	resp := ToChangeResponse(change)
	return &resp, nil
}

// CreateBatch groups matching approved changes into a new sync batch
func (s *Service) CreateBatch(ctx context.Context, req CreateBatchRequest) (*BatchResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}

	approvedStatus := staging.ChangeStatusApproved
	filter := staging.ChangeFilter{
		Status: &approvedStatus,
		Limit:  req.Filters.Limit,
	}
	if req.Filters.EntityType != nil {
		entityType := staging.EntityType(*req.Filters.EntityType)
		filter.EntityType = &entityType
	}
	filter.EntityID = req.Filters.EntityID

	changes, err := s.changeRepo.Find(ctx, filter)
	if err != nil {
		return nil, err
	}

	// Changes already claimed by another batch stay with it
	unclaimed := changes[:0]
	for _, c := range changes {
		if c.BatchID == nil {
			unclaimed = append(unclaimed, c)
		}
	}

	batch, err := staging.NewSyncBatch(req.Name, staging.SyncDirection(req.Direction), len(unclaimed))
	if err != nil {
		return nil, err
	}
	if err := s.batchRepo.Save(ctx, batch); err != nil {
		return nil, err
	}

	for _, c := range unclaimed {
		id := batch.ID
		c.BatchID = &id
		if err := s.changeRepo.Save(ctx, c); err != nil {
			return nil, err
		}
	}

	s.logger.Info("sync batch created",
		zap.String("batch_id", batch.ID.String()),
		zap.String("direction", batch.Direction.String()),
		zap.Int("total", batch.Total),
	)

	resp := ToBatchResponse(batch)
	return &resp, nil
}

// GetBatch returns one sync batch with its live counters
func (s *Service) GetBatch(ctx context.Context, id uuid.UUID) (*BatchResponse, error) {
	batch, err := s.batchRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := ToBatchResponse(batch)
	return &resp, nil
}

// ControlBatch pauses, resumes or cancels a batch. The executor observes
// the persisted status cooperatively before dispatching each sub-batch.
func (s *Service) ControlBatch(ctx context.Context, req ControlBatchRequest) (*BatchResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}

	batch, err := s.batchRepo.FindByID(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}

	switch req.Action {
	case ActionPause:
		err = batch.Pause()
	case ActionResume:
		err = batch.Start()
	case ActionCancel:
		err = batch.Cancel()
	default:
		err = fmt.Errorf("%w: unknown action %q", shared.ErrValidation, req.Action)
	}
	if err != nil {
		return nil, err
	}

	if err := s.batchRepo.Save(ctx, batch); err != nil {
		return nil, err
	}

	s.logger.Info("batch control applied",
		zap.String("batch_id", batch.ID.String()),
		zap.String("action", string(req.Action)),
		zap.String("status", batch.Status.String()),
	)

	resp := ToBatchResponse(batch)
	return &resp, nil
}

// GetMetrics summarizes the change log, optionally scoped to one batch
func (s *Service) GetMetrics(ctx context.Context, batchID *uuid.UUID) (*staging.StagingMetrics, error) {
	return s.changeRepo.Metrics(ctx, batchID)
}

// GetRollbackCandidates returns the most recently applied changes that have
// an earlier version to restore to
func (s *Service) GetRollbackCandidates(ctx context.Context, entityType staging.EntityType, limit int) ([]ChangeResponse, error) {
	changes, err := s.changeRepo.FindAppliedWithHistory(ctx, entityType, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ChangeResponse, len(changes))
	for i, c := range changes {
		out[i] = ToChangeResponse(c)
	}
	return out, nil
}

// Rollback stages a restore change that reverts an applied change to its
// pre-change snapshot. History is never rewritten: the rollback itself goes
// through staging, approval and execution like any other change.
func (s *Service) Rollback(ctx context.Context, changeID uuid.UUID) (*ChangeResponse, error) {
	applied, err := s.changeRepo.FindByID(ctx, changeID)
	if err != nil {
		return nil, err
	}

	restore, err := applied.NewRestoreChange()
	if err != nil {
		if errors.Is(err, staging.ErrNoPreviousVersion) {
			return nil, fmt.Errorf("%w: change %s has no earlier state", shared.ErrInvalidState, changeID)
		}
		return nil, err
	}

	if ok, _ := s.approval.CanAutoApprove(restore); ok {
		if err := restore.Approve(true); err != nil {
			return nil, err
		}
	}

	if err := s.saveWithFreshVersion(ctx, restore); err != nil {
		return nil, err
	}

	s.publish(ctx, staging.NewChangeStagedEvent(restore))

	resp := ToChangeResponse(restore)
	return &resp, nil
}

// publish emits a notification when a bus is wired; delivery is best-effort
func (s *Service) publish(ctx context.Context, event shared.DomainEvent) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.Warn("event publish failed", zap.String("event_type", event.EventType()), zap.Error(err))
	}
}
