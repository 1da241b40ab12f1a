package cache

import (
	"context"
	"sync"

	"github.com/catalogsync/backend/internal/domain/staging"
	"github.com/google/uuid"
)

// InMemoryCheckpointStore implements CheckpointStore using an in-memory map.
// This is suitable for single-instance deployments and testing; checkpoints
// do not survive a process restart.
type InMemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[uuid.UUID]*staging.Checkpoint
}

// NewInMemoryCheckpointStore creates a new in-memory checkpoint store
func NewInMemoryCheckpointStore() *InMemoryCheckpointStore {
	return &InMemoryCheckpointStore{
		checkpoints: make(map[uuid.UUID]*staging.Checkpoint),
	}
}

// Save persists a checkpoint, overwriting any previous one for the batch
func (s *InMemoryCheckpointStore) Save(ctx context.Context, checkpoint *staging.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *checkpoint
	copied.AppliedChangeIDs = append([]uuid.UUID(nil), checkpoint.AppliedChangeIDs...)
	s.checkpoints[checkpoint.BatchID] = &copied
	return nil
}

// Load returns the checkpoint for a batch, or nil when none exists
func (s *InMemoryCheckpointStore) Load(ctx context.Context, batchID uuid.UUID) (*staging.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checkpoint, exists := s.checkpoints[batchID]
	if !exists {
		return nil, nil
	}

	copied := *checkpoint
	copied.AppliedChangeIDs = append([]uuid.UUID(nil), checkpoint.AppliedChangeIDs...)
	return &copied, nil
}

// Delete removes a batch's checkpoint once the batch is terminal
func (s *InMemoryCheckpointStore) Delete(ctx context.Context, batchID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.checkpoints, batchID)
	return nil
}

// Size returns the number of stored checkpoints (for testing/monitoring)
func (s *InMemoryCheckpointStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.checkpoints)
}

// Ensure InMemoryCheckpointStore implements CheckpointStore
var _ staging.CheckpointStore = (*InMemoryCheckpointStore)(nil)
