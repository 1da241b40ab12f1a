package staging

import (
	"github.com/catalogsync/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// Aggregate type constants
const (
	AggregateTypeStagedChange = "StagedChange"
	AggregateTypeSyncBatch    = "SyncBatch"
)

// Event type constants
const (
	EventTypeChangeStaged   = "ChangeStaged"
	EventTypeChangeApplied  = "ChangeApplied"
	EventTypeChangeFailed   = "ChangeFailed"
	EventTypeBatchProgress  = "BatchProgress"
	EventTypeBatchCompleted = "BatchCompleted"
)

// ChangeStagedEvent is published when a change enters the staging store
type ChangeStagedEvent struct {
	shared.BaseDomainEvent
	ChangeID     uuid.UUID  `json:"change_id"`
	EntityType   EntityType `json:"entity_type"`
	EntityID     string     `json:"entity_id"`
	ChangeType   ChangeType `json:"change_type"`
	Version      int64      `json:"version"`
	HasConflicts bool       `json:"has_conflicts"`
	AutoApproved bool       `json:"auto_approved"`
}

// NewChangeStagedEvent creates a new ChangeStagedEvent
func NewChangeStagedEvent(change *StagedChange) *ChangeStagedEvent {
	return &ChangeStagedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeChangeStaged, AggregateTypeStagedChange, change.ID),
		ChangeID:        change.ID,
		EntityType:      change.EntityType,
		EntityID:        change.EntityID,
		ChangeType:      change.ChangeType,
		Version:         change.Version,
		HasConflicts:    change.HasConflicts,
		AutoApproved:    change.AutoApproved,
	}
}

// ChangeAppliedEvent is published when a change reaches the remote platform
type ChangeAppliedEvent struct {
	shared.BaseDomainEvent
	ChangeID uuid.UUID `json:"change_id"`
	EntityID string    `json:"entity_id"`
	Version  int64     `json:"version"`
}

// NewChangeAppliedEvent creates a new ChangeAppliedEvent
func NewChangeAppliedEvent(change *StagedChange) *ChangeAppliedEvent {
	return &ChangeAppliedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeChangeApplied, AggregateTypeStagedChange, change.ID),
		ChangeID:        change.ID,
		EntityID:        change.EntityID,
		Version:         change.Version,
	}
}

// ChangeFailedEvent is published when a change exhausts its retries
type ChangeFailedEvent struct {
	shared.BaseDomainEvent
	ChangeID uuid.UUID `json:"change_id"`
	EntityID string    `json:"entity_id"`
	Message  string    `json:"message"`
}

// NewChangeFailedEvent creates a new ChangeFailedEvent
func NewChangeFailedEvent(change *StagedChange) *ChangeFailedEvent {
	return &ChangeFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeChangeFailed, AggregateTypeStagedChange, change.ID),
		ChangeID:        change.ID,
		EntityID:        change.EntityID,
		Message:         change.ErrorMessage,
	}
}

// BatchProgressEvent is published after each sub-batch completes
type BatchProgressEvent struct {
	shared.BaseDomainEvent
	BatchID    uuid.UUID `json:"batch_id"`
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Percentage float64   `json:"percentage"`
}

// NewBatchProgressEvent creates a new BatchProgressEvent
func NewBatchProgressEvent(batch *SyncBatch) *BatchProgressEvent {
	return &BatchProgressEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBatchProgress, AggregateTypeSyncBatch, batch.ID),
		BatchID:         batch.ID,
		Processed:       batch.Processed,
		Succeeded:       batch.Succeeded,
		Failed:          batch.Failed,
		Percentage:      batch.Percentage(),
	}
}

// BatchCompletedEvent is published when a batch reaches a terminal state
type BatchCompletedEvent struct {
	shared.BaseDomainEvent
	BatchID   uuid.UUID   `json:"batch_id"`
	Status    BatchStatus `json:"status"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
}

// NewBatchCompletedEvent creates a new BatchCompletedEvent
func NewBatchCompletedEvent(batch *SyncBatch) *BatchCompletedEvent {
	return &BatchCompletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeBatchCompleted, AggregateTypeSyncBatch, batch.ID),
		BatchID:         batch.ID,
		Status:          batch.Status,
		Succeeded:       batch.Succeeded,
		Failed:          batch.Failed,
	}
}
