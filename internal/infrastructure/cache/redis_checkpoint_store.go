package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/catalogsync/backend/internal/domain/staging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// defaultCheckpointTTL keeps abandoned checkpoints from accumulating forever.
// A batch that has not checkpointed in a week is not coming back.
const defaultCheckpointTTL = 7 * 24 * time.Hour

// RedisCheckpointStore implements CheckpointStore using Redis.
// This is suitable for distributed deployments where a restarted executor
// on another instance needs to resume a batch.
type RedisCheckpointStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisCheckpointStore creates a new Redis-based checkpoint store
func NewRedisCheckpointStore(cfg RedisConfig) (*RedisCheckpointStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCheckpointStore{
		client:    client,
		keyPrefix: "sync:checkpoint:",
		ttl:       defaultCheckpointTTL,
	}, nil
}

// NewRedisCheckpointStoreWithClient creates a store with an existing Redis client.
// This is useful for testing or when sharing a client across components.
func NewRedisCheckpointStoreWithClient(client *redis.Client, keyPrefix string) *RedisCheckpointStore {
	if keyPrefix == "" {
		keyPrefix = "sync:checkpoint:"
	}
	return &RedisCheckpointStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       defaultCheckpointTTL,
	}
}

// Save persists a checkpoint, overwriting any previous one for the batch
func (s *RedisCheckpointStore) Save(ctx context.Context, checkpoint *staging.Checkpoint) error {
	raw, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	key := s.keyPrefix + checkpoint.BatchID.String()
	if err := s.client.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load returns the checkpoint for a batch, or nil when none exists
func (s *RedisCheckpointStore) Load(ctx context.Context, batchID uuid.UUID) (*staging.Checkpoint, error) {
	key := s.keyPrefix + batchID.String()

	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var checkpoint staging.Checkpoint
	if err := json.Unmarshal(raw, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// Delete removes a batch's checkpoint once the batch is terminal
func (s *RedisCheckpointStore) Delete(ctx context.Context, batchID uuid.UUID) error {
	key := s.keyPrefix + batchID.String()
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisCheckpointStore) Close() error {
	return s.client.Close()
}

// GetClient returns the underlying Redis client (for testing/monitoring)
func (s *RedisCheckpointStore) GetClient() *redis.Client {
	return s.client
}

// Ensure RedisCheckpointStore implements CheckpointStore
var _ staging.CheckpointStore = (*RedisCheckpointStore)(nil)
