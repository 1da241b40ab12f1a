package staging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Checkpoint is a durable progress marker for one batch. Restart resumes
// from it instead of reprocessing applied changes; re-application is safe
// regardless (status is the source of truth), the checkpoint just makes
// resumption cheap.
type Checkpoint struct {
	BatchID             uuid.UUID   `json:"batch_id"`
	CompletedSubBatches int         `json:"completed_sub_batches"`
	AppliedChangeIDs    []uuid.UUID `json:"applied_change_ids"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// Contains reports whether the change id is already recorded as applied
func (c *Checkpoint) Contains(changeID uuid.UUID) bool {
	for _, id := range c.AppliedChangeIDs {
		if id == changeID {
			return true
		}
	}
	return false
}

// CheckpointStore persists batch checkpoints
type CheckpointStore interface {
	// Save persists a checkpoint, overwriting any previous one for the batch
	Save(ctx context.Context, checkpoint *Checkpoint) error

	// Load returns the checkpoint for a batch, or nil when none exists
	Load(ctx context.Context, batchID uuid.UUID) (*Checkpoint, error)

	// Delete removes a batch's checkpoint once the batch is terminal
	Delete(ctx context.Context, batchID uuid.UUID) error
}
