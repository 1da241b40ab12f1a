package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/catalogsync/backend/internal/domain/staging"
	"github.com/catalogsync/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// maxStoredItemErrors mirrors the domain's bound on the per-batch error list
const maxStoredItemErrors = 50

// GormSyncBatchRepository implements SyncBatchRepository using GORM
type GormSyncBatchRepository struct {
	db *gorm.DB
}

// NewGormSyncBatchRepository creates a new GormSyncBatchRepository
func NewGormSyncBatchRepository(db *gorm.DB) *GormSyncBatchRepository {
	return &GormSyncBatchRepository{db: db}
}

// Save persists a batch (create or update)
func (r *GormSyncBatchRepository) Save(ctx context.Context, batch *staging.SyncBatch) error {
	var model models.SyncBatchModel
	if err := model.FromDomain(batch); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(&model).Error
}

// FindByID finds a batch by id
func (r *GormSyncBatchRepository) FindByID(ctx context.Context, id uuid.UUID) (*staging.SyncBatch, error) {
	var model models.SyncBatchModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, staging.ErrBatchNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// Find returns batches matching the filter, newest first
func (r *GormSyncBatchRepository) Find(ctx context.Context, filter staging.BatchFilter) ([]*staging.SyncBatch, error) {
	query := r.db.WithContext(ctx).Model(&models.SyncBatchModel{})

	if filter.Status != nil {
		query = query.Where("status = ?", filter.Status.String())
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []models.SyncBatchModel
	if err := query.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}

	batches := make([]*staging.SyncBatch, 0, len(rows))
	for i := range rows {
		batch, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// IncrementCounters atomically applies a sub-batch outcome to the batch's
// counters and bounded error list. Counters advance via relative SQL updates
// so concurrent sub-batch reports never lose an increment.
func (r *GormSyncBatchRepository) IncrementCounters(ctx context.Context, batchID uuid.UUID, delta staging.CounterDelta) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.SyncBatchModel{}).
			Where("id = ?", batchID).
			Updates(map[string]interface{}{
				"processed": gorm.Expr("processed + ?", delta.Processed),
				"succeeded": gorm.Expr("succeeded + ?", delta.Succeeded),
				"failed":    gorm.Expr("failed + ?", delta.Failed),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return staging.ErrBatchNotFound
		}

		if len(delta.Errors) == 0 {
			return nil
		}

		var model models.SyncBatchModel
		if err := tx.First(&model, "id = ?", batchID).Error; err != nil {
			return err
		}

		var itemErrors []staging.ItemError
		if model.ItemErrors != "" {
			if err := json.Unmarshal([]byte(model.ItemErrors), &itemErrors); err != nil {
				return fmt.Errorf("failed to decode item errors: %w", err)
			}
		}
		if len(itemErrors) >= maxStoredItemErrors {
			return nil
		}
		for _, e := range delta.Errors {
			if len(itemErrors) >= maxStoredItemErrors {
				break
			}
			itemErrors = append(itemErrors, e)
		}

		raw, err := json.Marshal(itemErrors)
		if err != nil {
			return fmt.Errorf("failed to encode item errors: %w", err)
		}
		return tx.Model(&models.SyncBatchModel{}).
			Where("id = ?", batchID).
			Update("item_errors", string(raw)).Error
	})
}

// Ensure GormSyncBatchRepository implements SyncBatchRepository
var _ staging.SyncBatchRepository = (*GormSyncBatchRepository)(nil)
