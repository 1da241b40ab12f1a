package staging

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// maxRecordedItemErrors bounds the per-item error list carried by a batch
const maxRecordedItemErrors = 50

var (
	ErrInvalidDirection  = errors.New("staging: invalid sync direction")
	ErrBatchNotRunning   = errors.New("staging: batch is not running")
	ErrBatchAlreadyFinal = errors.New("staging: batch is already in a terminal state")
)

// ---------------------------------------------------------------------------
// SyncDirection
// ---------------------------------------------------------------------------

// SyncDirection indicates whether a batch pushes local changes to the remote
// platform or pulls remote state into the local catalog
type SyncDirection string

const (
	// DirectionPush applies local staged changes to the remote platform
	DirectionPush SyncDirection = "push"
	// DirectionPull imports remote state as local staged changes
	DirectionPull SyncDirection = "pull"
)

// IsValid returns true if the direction is valid
func (d SyncDirection) IsValid() bool {
	return d == DirectionPush || d == DirectionPull
}

// String returns the string representation of SyncDirection
func (d SyncDirection) String() string {
	return string(d)
}

// ---------------------------------------------------------------------------
// BatchStatus
// ---------------------------------------------------------------------------

// BatchStatus is the lifecycle state of a sync batch
type BatchStatus string

const (
	// BatchStatusCreated is a batch that has not started executing
	BatchStatusCreated BatchStatus = "created"
	// BatchStatusRunning is actively executing sub-batches
	BatchStatusRunning BatchStatus = "running"
	// BatchStatusPaused stops dispatching new sub-batches until resumed
	BatchStatusPaused BatchStatus = "paused"
	// BatchStatusCompleted finished with zero failures
	BatchStatusCompleted BatchStatus = "completed"
	// BatchStatusCompletedWithErrors finished with at least one failed item
	BatchStatusCompletedWithErrors BatchStatus = "completed_with_errors"
	// BatchStatusCancelled was stopped by an operator; in-flight work drained
	BatchStatusCancelled BatchStatus = "cancelled"
	// BatchStatusTimedOut hit the wall-clock ceiling; unfinished items stay
	// pending and the batch waits to be resumed
	BatchStatusTimedOut BatchStatus = "timed_out"
)

// IsValid returns true if the status is valid
func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusCreated, BatchStatusRunning, BatchStatusPaused,
		BatchStatusCompleted, BatchStatusCompletedWithErrors,
		BatchStatusCancelled, BatchStatusTimedOut:
		return true
	default:
		return false
	}
}

// String returns the string representation of BatchStatus
func (s BatchStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the status is final. A timed-out batch is not
// terminal: its unfinished changes stay pending and a later run resumes them.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusCompletedWithErrors,
		BatchStatusCancelled:
		return true
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// ItemError
// ---------------------------------------------------------------------------

// ItemError describes one failed item inside a batch
type ItemError struct {
	ChangeID  uuid.UUID `json:"change_id"`
	EntityID  string    `json:"entity_id"`
	ErrorKind string    `json:"error_kind"`
	Message   string    `json:"message"`
}

// ---------------------------------------------------------------------------
// SyncBatch Aggregate
// ---------------------------------------------------------------------------

// SyncBatch is a named group of staged changes processed together.
// Counters are advanced incrementally as sub-batches report back; the batch
// is terminal only once every member change is applied or failed.
type SyncBatch struct {
	ID          uuid.UUID
	Name        string
	Direction   SyncDirection
	Status      BatchStatus
	Total       int
	Processed   int
	Succeeded   int
	Failed      int
	ItemErrors  []ItemError
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// NewSyncBatch creates a batch over the given number of changes
func NewSyncBatch(name string, direction SyncDirection, total int) (*SyncBatch, error) {
	if !direction.IsValid() {
		return nil, ErrInvalidDirection
	}
	return &SyncBatch{
		ID:        uuid.New(),
		Name:      name,
		Direction: direction,
		Status:    BatchStatusCreated,
		Total:     total,
		CreatedAt: time.Now(),
	}, nil
}

// Start marks the batch running. Paused and timed-out batches resume from
// where they left off; the executor's checkpoint keeps already-applied
// changes out of the rerun.
func (b *SyncBatch) Start() error {
	switch b.Status {
	case BatchStatusCreated, BatchStatusPaused, BatchStatusTimedOut:
	default:
		return ErrBatchAlreadyFinal
	}
	now := time.Now()
	b.Status = BatchStatusRunning
	b.CompletedAt = nil
	if b.StartedAt == nil {
		b.StartedAt = &now
	}
	return nil
}

// Recover returns a batch stranded in running by an interrupted engine
// process to created so the poll loop picks it up again. Counters and the
// original start time survive.
func (b *SyncBatch) Recover() error {
	if b.Status != BatchStatusRunning {
		return ErrBatchNotRunning
	}
	b.Status = BatchStatusCreated
	return nil
}

// Pause suspends dispatch of further sub-batches
func (b *SyncBatch) Pause() error {
	if b.Status != BatchStatusRunning {
		return ErrBatchNotRunning
	}
	b.Status = BatchStatusPaused
	return nil
}

// RecordResults applies a sub-batch outcome to the counters. The item error
// list is capped; overflow failures are counted but not itemized.
func (b *SyncBatch) RecordResults(succeeded, failed int, itemErrors []ItemError) {
	b.Processed += succeeded + failed
	b.Succeeded += succeeded
	b.Failed += failed
	for _, e := range itemErrors {
		if len(b.ItemErrors) >= maxRecordedItemErrors {
			break
		}
		b.ItemErrors = append(b.ItemErrors, e)
	}
}

// Percentage reports processed progress in the range [0, 100]
func (b *SyncBatch) Percentage() float64 {
	if b.Total == 0 {
		return 100.0
	}
	return float64(b.Processed) / float64(b.Total) * 100.0
}

// Complete finalizes the batch once every sub-batch has reported
func (b *SyncBatch) Complete() error {
	if b.Status.IsTerminal() {
		return ErrBatchAlreadyFinal
	}
	now := time.Now()
	if b.Failed > 0 {
		b.Status = BatchStatusCompletedWithErrors
	} else {
		b.Status = BatchStatusCompleted
	}
	b.CompletedAt = &now
	return nil
}

// Cancel marks the batch cancelled. Already-dispatched sub-batches drain;
// their results are still recorded.
func (b *SyncBatch) Cancel() error {
	if b.Status.IsTerminal() {
		return ErrBatchAlreadyFinal
	}
	now := time.Now()
	b.Status = BatchStatusCancelled
	b.CompletedAt = &now
	return nil
}

// TimeOut marks the batch timed out; unfinished changes remain pending
func (b *SyncBatch) TimeOut() error {
	if b.Status.IsTerminal() {
		return ErrBatchAlreadyFinal
	}
	now := time.Now()
	b.Status = BatchStatusTimedOut
	b.CompletedAt = &now
	return nil
}
