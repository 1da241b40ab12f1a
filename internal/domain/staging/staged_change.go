package staging

import (
	"errors"
	"reflect"
	"time"

	"github.com/catalogsync/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	ErrInvalidEntityType   = errors.New("staging: invalid entity type")
	ErrInvalidEntityID     = errors.New("staging: entity id is required")
	ErrInvalidChangeType   = errors.New("staging: invalid change type")
	ErrEmptyProposedData   = errors.New("staging: proposed data is required for this change type")
	ErrInvalidTransition   = errors.New("staging: invalid status transition")
	ErrConflictsUnresolved = errors.New("staging: change has unresolved conflicts")
	ErrNotApplied          = errors.New("staging: change is not applied")
	ErrNoPreviousVersion   = errors.New("staging: no previous version to restore")
	ErrStaleStatus         = errors.New("staging: status transition lost to another writer")
	ErrChangeNotFound      = errors.New("staging: staged change not found")
	ErrBatchNotFound       = errors.New("staging: sync batch not found")
)

// ---------------------------------------------------------------------------
// EntityType
// ---------------------------------------------------------------------------

// EntityType identifies which catalog entity a staged change targets
type EntityType string

const (
	// EntityTypeProduct targets a catalog product
	EntityTypeProduct EntityType = "product"
	// EntityTypeCategory targets a catalog category
	EntityTypeCategory EntityType = "category"
)

// IsValid returns true if the entity type is valid
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypeProduct, EntityTypeCategory:
		return true
	default:
		return false
	}
}

// String returns the string representation of EntityType
func (t EntityType) String() string {
	return string(t)
}

// ---------------------------------------------------------------------------
// ChangeType
// ---------------------------------------------------------------------------

// ChangeType identifies the kind of mutation a staged change proposes
type ChangeType string

const (
	// ChangeTypeCreate proposes creating a new entity
	ChangeTypeCreate ChangeType = "create"
	// ChangeTypeUpdate proposes updating an existing entity
	ChangeTypeUpdate ChangeType = "update"
	// ChangeTypeDelete proposes deleting an existing entity
	ChangeTypeDelete ChangeType = "delete"
	// ChangeTypeRestore proposes restoring a previously applied state
	ChangeTypeRestore ChangeType = "restore"
)

// IsValid returns true if the change type is valid
func (t ChangeType) IsValid() bool {
	switch t {
	case ChangeTypeCreate, ChangeTypeUpdate, ChangeTypeDelete, ChangeTypeRestore:
		return true
	default:
		return false
	}
}

// String returns the string representation of ChangeType
func (t ChangeType) String() string {
	return string(t)
}

// RequiresProposedData returns true if the change type needs a non-empty payload
func (t ChangeType) RequiresProposedData() bool {
	return t == ChangeTypeCreate || t == ChangeTypeUpdate || t == ChangeTypeRestore
}

// ---------------------------------------------------------------------------
// ChangeStatus
// ---------------------------------------------------------------------------

// ChangeStatus is the lifecycle state of a staged change
type ChangeStatus string

const (
	// ChangeStatusPending awaits review or execution
	ChangeStatusPending ChangeStatus = "pending"
	// ChangeStatusApproved is cleared for execution
	ChangeStatusApproved ChangeStatus = "approved"
	// ChangeStatusRejected was declined by a reviewer
	ChangeStatusRejected ChangeStatus = "rejected"
	// ChangeStatusApplied was successfully pushed to the remote platform
	ChangeStatusApplied ChangeStatus = "applied"
	// ChangeStatusFailed exhausted its retries against the remote platform
	ChangeStatusFailed ChangeStatus = "failed"
)

// IsValid returns true if the status is valid
func (s ChangeStatus) IsValid() bool {
	switch s {
	case ChangeStatusPending, ChangeStatusApproved, ChangeStatusRejected,
		ChangeStatusApplied, ChangeStatusFailed:
		return true
	default:
		return false
	}
}

// String returns the string representation of ChangeStatus
func (s ChangeStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the status is a final state
func (s ChangeStatus) IsTerminal() bool {
	return s == ChangeStatusRejected || s == ChangeStatusApplied || s == ChangeStatusFailed
}

// ---------------------------------------------------------------------------
// FieldChange
// ---------------------------------------------------------------------------

// FieldChange records the old and new value of a single field
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// ComputeFieldChanges diffs two snapshots of the same entity.
// Fields present on either side with differing values produce an entry;
// a side that lacks the field contributes nil.
func ComputeFieldChanges(current, proposed map[string]any) map[string]FieldChange {
	changes := make(map[string]FieldChange)

	for field, newValue := range proposed {
		oldValue, exists := current[field]
		if !exists || !reflect.DeepEqual(oldValue, newValue) {
			changes[field] = FieldChange{Old: oldValue, New: newValue}
		}
	}
	for field, oldValue := range current {
		if _, exists := proposed[field]; !exists {
			changes[field] = FieldChange{Old: oldValue, New: nil}
		}
	}

	return changes
}

// ---------------------------------------------------------------------------
// StagedChange Aggregate
// ---------------------------------------------------------------------------

// StagedChange is a proposed mutation to one catalog entity, held apart from
// the live record until it is approved and applied. Version numbers are
// monotonic per entity; the Staging Store is the single writer of Version
// and Status.
type StagedChange struct {
	ID         uuid.UUID
	EntityType EntityType
	// EntityID is the opaque identifier of the target entity
	EntityID   string
	ChangeType ChangeType
	// CurrentData is a snapshot of the live record at staging time (empty for create)
	CurrentData map[string]any
	// ProposedData is the desired post-change state
	ProposedData map[string]any
	// FieldChanges maps each changed field to its old/new values
	FieldChanges map[string]FieldChange
	// HasConflicts gates application: a conflicted change can never be
	// applied until resolution clears it
	HasConflicts   bool
	ConflictFields []string
	Status         ChangeStatus
	AutoApproved   bool
	// Version is the monotonic per-entity counter allocated by the store
	Version int64
	// ParentVersion links to the version this change was derived from
	ParentVersion *int64
	// BatchID groups changes processed together
	BatchID *uuid.UUID
	// ErrorMessage records the final error for failed changes
	ErrorMessage string
	CreatedAt    time.Time
	ReviewedAt   *time.Time
	AppliedAt    *time.Time
}

// NewStagedChange creates a staged change and computes its field diff.
// currentData may be nil for create changes.
func NewStagedChange(entityType EntityType, entityID string, changeType ChangeType, currentData, proposedData map[string]any) (*StagedChange, error) {
	if !entityType.IsValid() {
		return nil, ErrInvalidEntityType
	}
	if entityID == "" {
		return nil, ErrInvalidEntityID
	}
	if !changeType.IsValid() {
		return nil, ErrInvalidChangeType
	}
	if changeType.RequiresProposedData() && len(proposedData) == 0 {
		return nil, ErrEmptyProposedData
	}

	if currentData == nil {
		currentData = make(map[string]any)
	}
	if proposedData == nil {
		proposedData = make(map[string]any)
	}

	return &StagedChange{
		ID:           uuid.New(),
		EntityType:   entityType,
		EntityID:     entityID,
		ChangeType:   changeType,
		CurrentData:  currentData,
		ProposedData: proposedData,
		FieldChanges: ComputeFieldChanges(currentData, proposedData),
		Status:       ChangeStatusPending,
		CreatedAt:    time.Now(),
	}, nil
}

// MarkConflicts records the conflicting fields detected against the live record
func (c *StagedChange) MarkConflicts(fields []string) {
	c.HasConflicts = len(fields) > 0
	c.ConflictFields = fields
}

// ResolveConflicts overwrites the conflicting fields with the chosen values
// and clears the conflict gate.
func (c *StagedChange) ResolveConflicts(resolution map[string]any) error {
	if !c.HasConflicts {
		return ErrInvalidTransition
	}
	for field, value := range resolution {
		c.ProposedData[field] = value
	}
	c.FieldChanges = ComputeFieldChanges(c.CurrentData, c.ProposedData)
	c.HasConflicts = false
	c.ConflictFields = nil
	return nil
}

// Approve clears the change for execution. Conflicted changes cannot be
// approved until resolved.
func (c *StagedChange) Approve(auto bool) error {
	if c.Status != ChangeStatusPending {
		return ErrInvalidTransition
	}
	if c.HasConflicts {
		return ErrConflictsUnresolved
	}
	now := time.Now()
	c.Status = ChangeStatusApproved
	c.AutoApproved = auto
	c.ReviewedAt = &now
	return nil
}

// Reject declines the change
func (c *StagedChange) Reject() error {
	if c.Status != ChangeStatusPending {
		return ErrInvalidTransition
	}
	now := time.Now()
	c.Status = ChangeStatusRejected
	c.ReviewedAt = &now
	return nil
}

// MarkApplied transitions the change to applied. The conflict gate holds
// here as well: an unresolved change never reaches applied.
func (c *StagedChange) MarkApplied() error {
	if c.HasConflicts {
		return ErrConflictsUnresolved
	}
	if c.Status != ChangeStatusApproved {
		return ErrInvalidTransition
	}
	now := time.Now()
	c.Status = ChangeStatusApplied
	c.AppliedAt = &now
	return nil
}

// MarkFailed records the terminal failure of the change
func (c *StagedChange) MarkFailed(message string) error {
	if c.Status != ChangeStatusApproved && c.Status != ChangeStatusPending {
		return ErrInvalidTransition
	}
	c.Status = ChangeStatusFailed
	c.ErrorMessage = message
	return nil
}

// Requeue returns an in-flight change to pending, used when a version CAS
// loses to another worker and the change must be re-evaluated.
func (c *StagedChange) Requeue() error {
	if c.Status.IsTerminal() {
		return ErrInvalidTransition
	}
	c.Status = ChangeStatusPending
	return nil
}

// NewRestoreChange builds a new change that rolls this applied change back to
// its pre-change snapshot. History is never mutated; rollback is itself a
// staged change.
func (c *StagedChange) NewRestoreChange() (*StagedChange, error) {
	if c.Status != ChangeStatusApplied {
		return nil, ErrNotApplied
	}
	if len(c.CurrentData) == 0 {
		return nil, ErrNoPreviousVersion
	}

	restore, err := NewStagedChange(c.EntityType, c.EntityID, ChangeTypeRestore, c.ProposedData, c.CurrentData)
	if err != nil {
		return nil, err
	}
	parent := c.Version
	restore.ParentVersion = &parent
	return restore, nil
}

// Ensure StagedChange satisfies the shared entity contract
var _ shared.Entity = (*StagedChange)(nil)

// GetID returns the change id
func (c *StagedChange) GetID() uuid.UUID { return c.ID }

// GetCreatedAt returns the creation timestamp
func (c *StagedChange) GetCreatedAt() time.Time { return c.CreatedAt }

// GetUpdatedAt returns the most recent lifecycle timestamp
func (c *StagedChange) GetUpdatedAt() time.Time {
	if c.AppliedAt != nil {
		return *c.AppliedAt
	}
	if c.ReviewedAt != nil {
		return *c.ReviewedAt
	}
	return c.CreatedAt
}
