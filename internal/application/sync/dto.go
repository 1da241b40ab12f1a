package sync

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/catalogsync/backend/internal/domain/staging"
)

// validate is the shared validator instance for inbound requests
var validate = validator.New()

// BatchAction is an operator command against a running batch
type BatchAction string

const (
	ActionPause  BatchAction = "pause"
	ActionResume BatchAction = "resume"
	ActionCancel BatchAction = "cancel"
)

// StageChangeRequest asks the engine to stage one proposed mutation
type StageChangeRequest struct {
	EntityType string         `json:"entity_type" validate:"required,oneof=product category"`
	EntityID   string         `json:"entity_id" validate:"required,min=1,max=128"`
	ChangeType string         `json:"change_type" validate:"required,oneof=create update delete restore"`
	// CurrentData optionally carries the caller's view of the live record;
	// when absent the engine loads it through the entity loader
	CurrentData  map[string]any `json:"current_data,omitempty"`
	ProposedData map[string]any `json:"proposed_data"`
	// BatchID optionally attaches the change to an existing batch
	BatchID *uuid.UUID `json:"batch_id,omitempty"`
}

// Validate checks the request's structural constraints
func (r *StageChangeRequest) Validate() error {
	return validate.Struct(r)
}

// CreateBatchRequest groups approved changes into a sync batch
type CreateBatchRequest struct {
	Name      string `json:"name" validate:"required,min=1,max=200"`
	Direction string `json:"direction" validate:"required,oneof=push pull"`
	// Filters narrows which approved changes join the batch
	Filters BatchFilters `json:"filters"`
}

// BatchFilters selects the approved changes a batch will carry
type BatchFilters struct {
	EntityType *string `json:"entity_type,omitempty" validate:"omitempty,oneof=product category"`
	EntityID   *string `json:"entity_id,omitempty"`
	// Limit caps the batch size; 0 takes every matching change
	Limit int `json:"limit" validate:"min=0"`
}

// Validate checks the request's structural constraints
func (r *CreateBatchRequest) Validate() error {
	return validate.Struct(r)
}

// ControlBatchRequest pauses, resumes or cancels a batch
type ControlBatchRequest struct {
	BatchID uuid.UUID   `json:"batch_id" validate:"required"`
	Action  BatchAction `json:"action" validate:"required,oneof=pause resume cancel"`
}

// Validate checks the request's structural constraints
func (r *ControlBatchRequest) Validate() error {
	return validate.Struct(r)
}

// ResolveConflictRequest supplies the human-chosen values for a conflicted change
type ResolveConflictRequest struct {
	ChangeID         uuid.UUID      `json:"change_id" validate:"required"`
	ResolutionValues map[string]any `json:"resolution_values" validate:"required,min=1"`
	ResolvedBy       string         `json:"resolved_by" validate:"required,min=1,max=128"`
}

// Validate checks the request's structural constraints
func (r *ResolveConflictRequest) Validate() error {
	return validate.Struct(r)
}

// ChangeResponse represents a staged change in API responses
type ChangeResponse struct {
	ID             uuid.UUID                      `json:"id"`
	EntityType     string                         `json:"entity_type"`
	EntityID       string                         `json:"entity_id"`
	ChangeType     string                         `json:"change_type"`
	Status         string                         `json:"status"`
	Version        int64                          `json:"version"`
	ParentVersion  *int64                         `json:"parent_version,omitempty"`
	FieldChanges   map[string]staging.FieldChange `json:"field_changes"`
	HasConflicts   bool                           `json:"has_conflicts"`
	ConflictFields []string                       `json:"conflict_fields,omitempty"`
	AutoApproved   bool                           `json:"auto_approved"`
	BatchID        *uuid.UUID                     `json:"batch_id,omitempty"`
	ErrorMessage   string                         `json:"error_message,omitempty"`
	CreatedAt      time.Time                      `json:"created_at"`
	ReviewedAt     *time.Time                     `json:"reviewed_at,omitempty"`
	AppliedAt      *time.Time                     `json:"applied_at,omitempty"`
}

// ToChangeResponse converts a domain StagedChange to ChangeResponse
func ToChangeResponse(c *staging.StagedChange) ChangeResponse {
	return ChangeResponse{
		ID:             c.ID,
		EntityType:     c.EntityType.String(),
		EntityID:       c.EntityID,
		ChangeType:     c.ChangeType.String(),
		Status:         c.Status.String(),
		Version:        c.Version,
		ParentVersion:  c.ParentVersion,
		FieldChanges:   c.FieldChanges,
		HasConflicts:   c.HasConflicts,
		ConflictFields: c.ConflictFields,
		AutoApproved:   c.AutoApproved,
		BatchID:        c.BatchID,
		ErrorMessage:   c.ErrorMessage,
		CreatedAt:      c.CreatedAt,
		ReviewedAt:     c.ReviewedAt,
		AppliedAt:      c.AppliedAt,
	}
}

// BatchResponse represents a sync batch in API responses
type BatchResponse struct {
	ID          uuid.UUID           `json:"id"`
	Name        string              `json:"name"`
	Direction   string              `json:"direction"`
	Status      string              `json:"status"`
	Total       int                 `json:"total"`
	Processed   int                 `json:"processed"`
	Succeeded   int                 `json:"succeeded"`
	Failed      int                 `json:"failed"`
	Percentage  float64             `json:"percentage"`
	ItemErrors  []staging.ItemError `json:"item_errors,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// ToBatchResponse converts a domain SyncBatch to BatchResponse
func ToBatchResponse(b *staging.SyncBatch) BatchResponse {
	return BatchResponse{
		ID:          b.ID,
		Name:        b.Name,
		Direction:   b.Direction.String(),
		Status:      b.Status.String(),
		Total:       b.Total,
		Processed:   b.Processed,
		Succeeded:   b.Succeeded,
		Failed:      b.Failed,
		Percentage:  b.Percentage(),
		ItemErrors:  b.ItemErrors,
		CreatedAt:   b.CreatedAt,
		StartedAt:   b.StartedAt,
		CompletedAt: b.CompletedAt,
	}
}
