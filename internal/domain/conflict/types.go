package conflict

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// ConflictType
// ---------------------------------------------------------------------------

// ConflictType classifies one field-level disagreement
type ConflictType string

const (
	// TypeValueMismatch means both sides carry the field with different values
	TypeValueMismatch ConflictType = "value_mismatch"
	// TypeMissingField means the field is present on one side only
	TypeMissingField ConflictType = "missing_field"
	// TypeTypeMismatch means the field carries different runtime types
	TypeTypeMismatch ConflictType = "type_mismatch"
	// TypeBusinessRuleViolation means a validation rule fired on a value
	TypeBusinessRuleViolation ConflictType = "business_rule_violation"
)

// IsValid returns true if the conflict type is valid
func (t ConflictType) IsValid() bool {
	switch t {
	case TypeValueMismatch, TypeMissingField, TypeTypeMismatch, TypeBusinessRuleViolation:
		return true
	default:
		return false
	}
}

// String returns the string representation of ConflictType
func (t ConflictType) String() string {
	return string(t)
}

// ---------------------------------------------------------------------------
// Severity
// ---------------------------------------------------------------------------

// Severity grades how dangerous a conflict is to auto-resolve
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for aggregation
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// IsValid returns true if the severity is valid
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// String returns the string representation of Severity
func (s Severity) String() string {
	return string(s)
}

// AtLeast reports whether s is at least as severe as other
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// MaxSeverity returns the more severe of two severities
func MaxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// ---------------------------------------------------------------------------
// ResolutionStrategy
// ---------------------------------------------------------------------------

// ResolutionStrategy names the algorithmic winner selection for a detail
type ResolutionStrategy string

const (
	// StrategyUseSource keeps the source-side value
	StrategyUseSource ResolutionStrategy = "use_source"
	// StrategyUseTarget keeps the target-side value
	StrategyUseTarget ResolutionStrategy = "use_target"
	// StrategyUseExisting keeps whichever side carries the field
	StrategyUseExisting ResolutionStrategy = "use_existing"
	// StrategyUseNonEmpty prefers the non-empty side
	StrategyUseNonEmpty ResolutionStrategy = "use_non_empty"
	// StrategyUseLonger prefers the longer, more descriptive string
	StrategyUseLonger ResolutionStrategy = "use_longer"
	// StrategyUseValid prefers the side passing business validation
	StrategyUseValid ResolutionStrategy = "use_valid"
)

// ---------------------------------------------------------------------------
// Detail and Conflict
// ---------------------------------------------------------------------------

// Detail is one field-level disagreement inside a comparison result
type Detail struct {
	FieldName      string             `json:"field_name"`
	Type           ConflictType       `json:"conflict_type"`
	Severity       Severity           `json:"severity"`
	SourceValue    any                `json:"source_value"`
	TargetValue    any                `json:"target_value"`
	AutoResolvable bool               `json:"auto_resolvable"`
	Strategy       ResolutionStrategy `json:"resolution_strategy,omitempty"`
	// ResolvedValue is the winning value when AutoResolvable is true
	ResolvedValue any `json:"resolved_value,omitempty"`
	// ConfidenceScore is deterministic for identical inputs, in [0, 1]
	ConfidenceScore float64 `json:"confidence_score"`
}

// Conflict aggregates every field-level disagreement between two snapshots
// of the same logical entity. Severity is the maximum of its details.
type Conflict struct {
	ID       uuid.UUID `json:"id"`
	EntityID string    `json:"entity_id"`
	Details  []Detail  `json:"details"`
	Severity Severity  `json:"severity"`
	// AutoResolved is true only when every single detail is auto-resolvable
	AutoResolved bool `json:"auto_resolved"`
	// ResolvedData carries the source snapshot with every auto-resolvable
	// field replaced by its winning value
	ResolvedData map[string]any `json:"resolved_data,omitempty"`
	DetectedAt   time.Time      `json:"detected_at"`
}

// FieldNames returns the conflicting field names in detail order
func (c *Conflict) FieldNames() []string {
	names := make([]string, 0, len(c.Details))
	for _, d := range c.Details {
		names = append(names, d.FieldName)
	}
	return names
}
