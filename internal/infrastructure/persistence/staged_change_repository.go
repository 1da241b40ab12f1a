package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/catalogsync/backend/internal/domain/staging"
	"github.com/catalogsync/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormStagedChangeRepository implements StagedChangeRepository using GORM.
// It is the single writer of version numbers and status transitions; the
// unique index on (entity_type, entity_id, version) enforces monotonicity
// even if two allocators race.
type GormStagedChangeRepository struct {
	db *gorm.DB
}

// NewGormStagedChangeRepository creates a new GormStagedChangeRepository
func NewGormStagedChangeRepository(db *gorm.DB) *GormStagedChangeRepository {
	return &GormStagedChangeRepository{db: db}
}

// Save persists a staged change (create or update)
func (r *GormStagedChangeRepository) Save(ctx context.Context, change *staging.StagedChange) error {
	var model models.StagedChangeModel
	if err := model.FromDomain(change); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(&model).Error
}

// FindByID finds a staged change by id
func (r *GormStagedChangeRepository) FindByID(ctx context.Context, id uuid.UUID) (*staging.StagedChange, error) {
	var model models.StagedChangeModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, staging.ErrChangeNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// Find returns staged changes matching the filter, ordered by
// (entity_id, version) ascending
func (r *GormStagedChangeRepository) Find(ctx context.Context, filter staging.ChangeFilter) ([]*staging.StagedChange, error) {
	query := r.db.WithContext(ctx).Model(&models.StagedChangeModel{})

	if filter.EntityType != nil {
		query = query.Where("entity_type = ?", filter.EntityType.String())
	}
	if filter.EntityID != nil {
		query = query.Where("entity_id = ?", *filter.EntityID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", filter.Status.String())
	}
	if filter.BatchID != nil {
		query = query.Where("batch_id = ?", *filter.BatchID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []models.StagedChangeModel
	if err := query.Order("entity_id ASC, version ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainChanges(rows)
}

// FindByBatch returns all changes belonging to a batch ordered by version
func (r *GormStagedChangeRepository) FindByBatch(ctx context.Context, batchID uuid.UUID) ([]*staging.StagedChange, error) {
	var rows []models.StagedChangeModel
	if err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("entity_id ASC, version ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainChanges(rows)
}

// NextVersion allocates the next monotonic version for an entity.
// Two allocators racing to the same version collide on the unique index at
// Save time; the loser requeues its change and allocates again.
func (r *GormStagedChangeRepository) NextVersion(ctx context.Context, entityType staging.EntityType, entityID string) (int64, error) {
	var current *int64
	if err := r.db.WithContext(ctx).
		Model(&models.StagedChangeModel{}).
		Where("entity_type = ? AND entity_id = ?", entityType.String(), entityID).
		Select("MAX(version)").
		Scan(&current).Error; err != nil {
		return 0, fmt.Errorf("failed to allocate version: %w", err)
	}
	if current == nil {
		return 1, nil
	}
	return *current + 1, nil
}

// HasEarlierOutstanding reports whether a lower-version change for the same
// entity is still pending or approved
func (r *GormStagedChangeRepository) HasEarlierOutstanding(ctx context.Context, change *staging.StagedChange) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.StagedChangeModel{}).
		Where("entity_type = ? AND entity_id = ? AND version < ?",
			change.EntityType.String(), change.EntityID, change.Version).
		Where("status IN ?", []string{
			staging.ChangeStatusPending.String(),
			staging.ChangeStatusApproved.String(),
		}).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CASStatus transitions a change's status only if its stored status still
// equals expected. Zero affected rows means another writer already moved it.
func (r *GormStagedChangeRepository) CASStatus(ctx context.Context, id uuid.UUID, expected, next staging.ChangeStatus) error {
	result := r.db.WithContext(ctx).
		Model(&models.StagedChangeModel{}).
		Where("id = ? AND status = ?", id, expected.String()).
		Update("status", next.String())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&models.StagedChangeModel{}).
			Where("id = ?", id).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return staging.ErrChangeNotFound
		}
		return staging.ErrStaleStatus
	}
	return nil
}

// CountVersions returns how many versions exist for an entity
func (r *GormStagedChangeRepository) CountVersions(ctx context.Context, entityType staging.EntityType, entityID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.StagedChangeModel{}).
		Where("entity_type = ? AND entity_id = ?", entityType.String(), entityID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// FindAppliedWithHistory returns the most recently applied changes that have
// at least one earlier version on record. Version numbers start at 1, so any
// applied change above version 1 has a predecessor to roll back to.
func (r *GormStagedChangeRepository) FindAppliedWithHistory(ctx context.Context, entityType staging.EntityType, limit int) ([]*staging.StagedChange, error) {
	query := r.db.WithContext(ctx).
		Where("entity_type = ? AND status = ? AND version > 1",
			entityType.String(), staging.ChangeStatusApplied.String()).
		Order("applied_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.StagedChangeModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainChanges(rows)
}

// Metrics summarizes the change log, optionally scoped to one batch
func (r *GormStagedChangeRepository) Metrics(ctx context.Context, batchID *uuid.UUID) (*staging.StagingMetrics, error) {
	metrics := staging.NewStagingMetrics()

	scoped := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&models.StagedChangeModel{})
		if batchID != nil {
			query = query.Where("batch_id = ?", *batchID)
		}
		return query
	}

	type bucket struct {
		Key   string
		Count int64
	}

	var byStatus []bucket
	if err := scoped().
		Select("status AS key, COUNT(*) AS count").
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, err
	}
	for _, b := range byStatus {
		metrics.ByStatus[staging.ChangeStatus(b.Key)] = b.Count
		metrics.TotalChanges += b.Count
	}

	var byChangeType []bucket
	if err := scoped().
		Select("change_type AS key, COUNT(*) AS count").
		Group("change_type").
		Scan(&byChangeType).Error; err != nil {
		return nil, err
	}
	for _, b := range byChangeType {
		metrics.ByChangeType[staging.ChangeType(b.Key)] = b.Count
	}

	if err := scoped().Where("has_conflicts = ?", true).Count(&metrics.WithConflicts).Error; err != nil {
		return nil, err
	}
	if err := scoped().Where("auto_approved = ?", true).Count(&metrics.AutoApproved).Error; err != nil {
		return nil, err
	}
	if err := scoped().
		Where("batch_id IS NOT NULL").
		Distinct("batch_id").
		Count(&metrics.DistinctBatches).Error; err != nil {
		return nil, err
	}

	return metrics, nil
}

// toDomainChanges converts model rows to domain changes
func toDomainChanges(rows []models.StagedChangeModel) ([]*staging.StagedChange, error) {
	changes := make([]*staging.StagedChange, 0, len(rows))
	for i := range rows {
		change, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// Ensure GormStagedChangeRepository implements StagedChangeRepository
var _ staging.StagedChangeRepository = (*GormStagedChangeRepository)(nil)
