package staging

import (
	"context"

	"github.com/google/uuid"
)

// ChangeFilter defines the filters for querying staged changes
type ChangeFilter struct {
	EntityType *EntityType
	EntityID   *string
	Status     *ChangeStatus
	BatchID    *uuid.UUID
	Limit      int
}

// StagedChangeRepository defines the interface for staged change persistence.
// It is the single writer of version numbers and status transitions.
type StagedChangeRepository interface {
	// Save persists a staged change (create or update)
	Save(ctx context.Context, change *StagedChange) error

	// FindByID finds a staged change by id
	FindByID(ctx context.Context, id uuid.UUID) (*StagedChange, error)

	// Find returns staged changes matching the filter, ordered by
	// (entity_id, version) ascending
	Find(ctx context.Context, filter ChangeFilter) ([]*StagedChange, error)

	// FindByBatch returns all changes belonging to a batch ordered by version
	FindByBatch(ctx context.Context, batchID uuid.UUID) ([]*StagedChange, error)

	// NextVersion allocates the next monotonic version for an entity.
	// No two changes for the same entity ever share a version.
	NextVersion(ctx context.Context, entityType EntityType, entityID string) (int64, error)

	// HasEarlierOutstanding reports whether a lower-version change for the
	// same entity is still pending or approved. The executor must not apply
	// a change while this holds.
	HasEarlierOutstanding(ctx context.Context, change *StagedChange) (bool, error)

	// CASStatus transitions a change's status only if its stored status still
	// equals expected. Returns shared.ErrVersionConflict semantics via a
	// package sentinel when another worker won the transition.
	CASStatus(ctx context.Context, id uuid.UUID, expected, next ChangeStatus) error

	// CountVersions returns how many versions exist for an entity
	CountVersions(ctx context.Context, entityType EntityType, entityID string) (int64, error)

	// FindAppliedWithHistory returns the most recently applied changes that
	// have at least one earlier version on record (rollback candidates)
	FindAppliedWithHistory(ctx context.Context, entityType EntityType, limit int) ([]*StagedChange, error)

	// Metrics summarizes the change log, optionally scoped to one batch.
	// Never fails on empty input; returns zeroed counts instead.
	Metrics(ctx context.Context, batchID *uuid.UUID) (*StagingMetrics, error)
}

// BatchFilter defines the filters for querying sync batches
type BatchFilter struct {
	Status *BatchStatus
	Limit  int
}

// CounterDelta is an atomic increment applied to a batch's progress counters
type CounterDelta struct {
	Processed int
	Succeeded int
	Failed    int
	Errors    []ItemError
}

// SyncBatchRepository defines the interface for sync batch persistence
type SyncBatchRepository interface {
	// Save persists a batch (create or update)
	Save(ctx context.Context, batch *SyncBatch) error

	// FindByID finds a batch by id
	FindByID(ctx context.Context, id uuid.UUID) (*SyncBatch, error)

	// Find returns batches matching the filter, newest first
	Find(ctx context.Context, filter BatchFilter) ([]*SyncBatch, error)

	// IncrementCounters atomically applies a sub-batch outcome to the
	// batch's counters and bounded error list
	IncrementCounters(ctx context.Context, batchID uuid.UUID, delta CounterDelta) error
}
