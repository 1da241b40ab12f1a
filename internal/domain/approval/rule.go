package approval

import (
	"strings"

	"github.com/catalogsync/backend/internal/domain/staging"
	"github.com/shopspring/decimal"
)

// Threshold bounds the relative change allowed on a field before the rule
// vetoes auto-approval
type Threshold struct {
	// MaxChangeRatio is the largest allowed |new-old|/|old|, e.g. 0.20
	MaxChangeRatio float64
	// DecreaseOnly restricts the check to reductions (inventory drawdowns)
	DecreaseOnly bool
}

// Conditions is the structured predicate a change must satisfy for a rule
// to allow auto-approval. A rule carrying no conditions offers no
// auto-approval path at all.
type Conditions struct {
	// RequireNoConflicts vetoes any change with unresolved conflicts
	RequireNoConflicts bool
	// ExcludedFields vetoes changes touching any of these fields
	ExcludedFields []string
	// MaxFieldsChanged vetoes changes touching more fields than this
	// (0 means unlimited)
	MaxFieldsChanged int
}

// Rule is a named, prioritized approval policy. Rules are evaluated in
// ascending priority; any applicable rule whose conditions fail vetoes
// auto-approval.
type Rule struct {
	Name string
	// EntityType restricts the rule to one entity type (nil = any)
	EntityType *staging.EntityType
	// ChangeType restricts the rule to one change type (nil = any)
	ChangeType *staging.ChangeType
	// FieldPatterns restricts the rule to changes touching matching fields
	// (substring match, empty = any change)
	FieldPatterns []string
	// ValueThresholds caps the relative change per field pattern
	ValueThresholds map[string]Threshold
	// RequiresApproval marks the rule as a gate; rules with false never veto
	RequiresApproval bool
	// AutoApprove is the condition set allowing the gate to open;
	// nil means the gate never opens
	AutoApprove *Conditions
	// Priority orders evaluation, lower first
	Priority int
}

// AppliesTo reports whether the rule is relevant to the given change
func (r *Rule) AppliesTo(change *staging.StagedChange) bool {
	if r.EntityType != nil && *r.EntityType != change.EntityType {
		return false
	}
	if r.ChangeType != nil && *r.ChangeType != change.ChangeType {
		return false
	}
	if len(r.FieldPatterns) == 0 {
		return true
	}
	for field := range change.FieldChanges {
		if matchesAny(field, r.FieldPatterns) {
			return true
		}
	}
	return false
}

// matchesAny reports whether the field name matches one of the patterns
func matchesAny(field string, patterns []string) bool {
	f := strings.ToLower(field)
	for _, p := range patterns {
		if p == "*" || strings.Contains(f, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// exceedsThreshold reports whether one field change breaks a threshold
func exceedsThreshold(fc staging.FieldChange, th Threshold) bool {
	oldVal, oldOK := toDecimal(fc.Old)
	newVal, newOK := toDecimal(fc.New)
	if !oldOK || !newOK {
		return false
	}
	if oldVal.Equal(newVal) {
		return false
	}
	if th.DecreaseOnly && newVal.GreaterThanOrEqual(oldVal) {
		return false
	}
	if oldVal.IsZero() {
		// Any change away from zero is a full-magnitude change
		return true
	}
	diff := newVal.Sub(oldVal).Abs()
	ratio, _ := diff.Div(oldVal.Abs()).Float64()
	return ratio > th.MaxChangeRatio
}

// toDecimal converts the numeric types a field change can carry
func toDecimal(value any) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, true
	case float64:
		return decimal.NewFromFloat(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	default:
		return decimal.Decimal{}, false
	}
}

// entityTypePtr is a convenience for building rule literals
func entityTypePtr(t staging.EntityType) *staging.EntityType { return &t }

// changeTypePtr is a convenience for building rule literals
func changeTypePtr(t staging.ChangeType) *staging.ChangeType { return &t }

// DefaultRules returns the baseline policy shipped with the engine:
// large price moves, deep inventory cuts and all creations need review;
// small multi-field updates away from sensitive fields auto-approve.
func DefaultRules() []*Rule {
	return []*Rule{
		{
			Name:          "price-change-cap",
			FieldPatterns: []string{"price"},
			ValueThresholds: map[string]Threshold{
				"price": {MaxChangeRatio: 0.20},
			},
			RequiresApproval: true,
			AutoApprove:      &Conditions{RequireNoConflicts: true},
			Priority:         10,
		},
		{
			Name:          "inventory-reduction-cap",
			FieldPatterns: []string{"inventory", "quantity", "stock"},
			ValueThresholds: map[string]Threshold{
				"inventory": {MaxChangeRatio: 0.50, DecreaseOnly: true},
				"quantity":  {MaxChangeRatio: 0.50, DecreaseOnly: true},
				"stock":     {MaxChangeRatio: 0.50, DecreaseOnly: true},
			},
			RequiresApproval: true,
			AutoApprove:      &Conditions{RequireNoConflicts: true},
			Priority:         20,
		},
		{
			Name:             "creations-need-review",
			ChangeType:       changeTypePtr(staging.ChangeTypeCreate),
			RequiresApproval: true,
			Priority:         30,
		},
		{
			Name:             "small-safe-updates",
			ChangeType:       changeTypePtr(staging.ChangeTypeUpdate),
			RequiresApproval: true,
			AutoApprove: &Conditions{
				RequireNoConflicts: true,
				ExcludedFields:     []string{"price", "sku", "inventory"},
				MaxFieldsChanged:   3,
			},
			Priority: 40,
		},
	}
}
