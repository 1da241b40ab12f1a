package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/catalogsync/backend/internal/domain/staging"
	"github.com/google/uuid"
)

// StagedChangeModel is the persistence mapping of staging.StagedChange.
// Snapshots and the field diff are stored as JSON text columns; the
// composite unique index on (entity_type, entity_id, version) backs the
// per-entity version monotonicity invariant at the database level.
type StagedChangeModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primary_key"`
	EntityType     string     `gorm:"type:varchar(32);not null;uniqueIndex:idx_staged_changes_entity_version,priority:1"`
	EntityID       string     `gorm:"type:varchar(128);not null;uniqueIndex:idx_staged_changes_entity_version,priority:2"`
	ChangeType     string     `gorm:"type:varchar(16);not null"`
	CurrentData    string     `gorm:"type:text"`
	ProposedData   string     `gorm:"type:text"`
	FieldChanges   string     `gorm:"type:text"`
	HasConflicts   bool       `gorm:"not null;default:false"`
	ConflictFields string     `gorm:"type:text"`
	Status         string     `gorm:"type:varchar(16);not null;index"`
	AutoApproved   bool       `gorm:"not null;default:false"`
	Version        int64      `gorm:"not null;uniqueIndex:idx_staged_changes_entity_version,priority:3"`
	ParentVersion  *int64     `gorm:""`
	BatchID        *uuid.UUID `gorm:"type:uuid;index"`
	ErrorMessage   string     `gorm:"type:text"`
	CreatedAt      time.Time  `gorm:"not null"`
	ReviewedAt     *time.Time `gorm:""`
	AppliedAt      *time.Time `gorm:""`
}

// TableName specifies the table name for StagedChangeModel
func (StagedChangeModel) TableName() string {
	return "staged_changes"
}

// FromDomain populates the model from a domain staged change
func (m *StagedChangeModel) FromDomain(c *staging.StagedChange) error {
	currentData, err := marshalMap(c.CurrentData)
	if err != nil {
		return fmt.Errorf("failed to encode current data: %w", err)
	}
	proposedData, err := marshalMap(c.ProposedData)
	if err != nil {
		return fmt.Errorf("failed to encode proposed data: %w", err)
	}
	fieldChanges, err := json.Marshal(c.FieldChanges)
	if err != nil {
		return fmt.Errorf("failed to encode field changes: %w", err)
	}
	conflictFields, err := json.Marshal(c.ConflictFields)
	if err != nil {
		return fmt.Errorf("failed to encode conflict fields: %w", err)
	}

	m.ID = c.ID
	m.EntityType = c.EntityType.String()
	m.EntityID = c.EntityID
	m.ChangeType = c.ChangeType.String()
	m.CurrentData = currentData
	m.ProposedData = proposedData
	m.FieldChanges = string(fieldChanges)
	m.HasConflicts = c.HasConflicts
	m.ConflictFields = string(conflictFields)
	m.Status = c.Status.String()
	m.AutoApproved = c.AutoApproved
	m.Version = c.Version
	m.ParentVersion = c.ParentVersion
	m.BatchID = c.BatchID
	m.ErrorMessage = c.ErrorMessage
	m.CreatedAt = c.CreatedAt
	m.ReviewedAt = c.ReviewedAt
	m.AppliedAt = c.AppliedAt
	return nil
}

// ToDomain converts the model back to a domain staged change
func (m *StagedChangeModel) ToDomain() (*staging.StagedChange, error) {
	currentData, err := unmarshalMap(m.CurrentData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode current data: %w", err)
	}
	proposedData, err := unmarshalMap(m.ProposedData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode proposed data: %w", err)
	}

	fieldChanges := make(map[string]staging.FieldChange)
	if m.FieldChanges != "" {
		if err := json.Unmarshal([]byte(m.FieldChanges), &fieldChanges); err != nil {
			return nil, fmt.Errorf("failed to decode field changes: %w", err)
		}
	}

	var conflictFields []string
	if m.ConflictFields != "" {
		if err := json.Unmarshal([]byte(m.ConflictFields), &conflictFields); err != nil {
			return nil, fmt.Errorf("failed to decode conflict fields: %w", err)
		}
	}

	return &staging.StagedChange{
		ID:             m.ID,
		EntityType:     staging.EntityType(m.EntityType),
		EntityID:       m.EntityID,
		ChangeType:     staging.ChangeType(m.ChangeType),
		CurrentData:    currentData,
		ProposedData:   proposedData,
		FieldChanges:   fieldChanges,
		HasConflicts:   m.HasConflicts,
		ConflictFields: conflictFields,
		Status:         staging.ChangeStatus(m.Status),
		AutoApproved:   m.AutoApproved,
		Version:        m.Version,
		ParentVersion:  m.ParentVersion,
		BatchID:        m.BatchID,
		ErrorMessage:   m.ErrorMessage,
		CreatedAt:      m.CreatedAt,
		ReviewedAt:     m.ReviewedAt,
		AppliedAt:      m.AppliedAt,
	}, nil
}

// SyncBatchModel is the persistence mapping of staging.SyncBatch.
// The bounded item error list is stored as a JSON text column.
type SyncBatchModel struct {
	ID          uuid.UUID  `gorm:"type:uuid;primary_key"`
	Name        string     `gorm:"type:varchar(255);not null"`
	Direction   string     `gorm:"type:varchar(8);not null"`
	Status      string     `gorm:"type:varchar(32);not null;index"`
	Total       int        `gorm:"not null;default:0"`
	Processed   int        `gorm:"not null;default:0"`
	Succeeded   int        `gorm:"not null;default:0"`
	Failed      int        `gorm:"not null;default:0"`
	ItemErrors  string     `gorm:"type:text"`
	CreatedAt   time.Time  `gorm:"not null"`
	StartedAt   *time.Time `gorm:""`
	CompletedAt *time.Time `gorm:""`
}

// TableName specifies the table name for SyncBatchModel
func (SyncBatchModel) TableName() string {
	return "sync_batches"
}

// FromDomain populates the model from a domain sync batch
func (m *SyncBatchModel) FromDomain(b *staging.SyncBatch) error {
	itemErrors, err := json.Marshal(b.ItemErrors)
	if err != nil {
		return fmt.Errorf("failed to encode item errors: %w", err)
	}

	m.ID = b.ID
	m.Name = b.Name
	m.Direction = b.Direction.String()
	m.Status = b.Status.String()
	m.Total = b.Total
	m.Processed = b.Processed
	m.Succeeded = b.Succeeded
	m.Failed = b.Failed
	m.ItemErrors = string(itemErrors)
	m.CreatedAt = b.CreatedAt
	m.StartedAt = b.StartedAt
	m.CompletedAt = b.CompletedAt
	return nil
}

// ToDomain converts the model back to a domain sync batch
func (m *SyncBatchModel) ToDomain() (*staging.SyncBatch, error) {
	var itemErrors []staging.ItemError
	if m.ItemErrors != "" {
		if err := json.Unmarshal([]byte(m.ItemErrors), &itemErrors); err != nil {
			return nil, fmt.Errorf("failed to decode item errors: %w", err)
		}
	}

	return &staging.SyncBatch{
		ID:          m.ID,
		Name:        m.Name,
		Direction:   staging.SyncDirection(m.Direction),
		Status:      staging.BatchStatus(m.Status),
		Total:       m.Total,
		Processed:   m.Processed,
		Succeeded:   m.Succeeded,
		Failed:      m.Failed,
		ItemErrors:  itemErrors,
		CreatedAt:   m.CreatedAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
	}, nil
}

// marshalMap encodes a snapshot map, keeping empty maps as "{}"
func marshalMap(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// unmarshalMap decodes a snapshot column, treating empty text as an empty map
func unmarshalMap(raw string) (map[string]any, error) {
	data := make(map[string]any)
	if raw == "" {
		return data, nil
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, err
	}
	return data, nil
}
