package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogsync/backend/internal/domain/staging"
)

func updateChange(t *testing.T, current, proposed map[string]any) *staging.StagedChange {
	t.Helper()
	change, err := staging.NewStagedChange(staging.EntityTypeProduct, "prod-1", staging.ChangeTypeUpdate, current, proposed)
	require.NoError(t, err)
	return change
}

func TestEngine_SmallSafeUpdateAutoApproves(t *testing.T) {
	e := NewEngine()
	change := updateChange(t,
		map[string]any{"name": "Widget", "description": "A widget"},
		map[string]any{"name": "Widget", "description": "A better widget"},
	)

	ok, reason := e.CanAutoApprove(change)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestEngine_TooManyFieldsVetoes(t *testing.T) {
	e := NewEngine()
	change := updateChange(t,
		map[string]any{"name": "a", "description": "b", "vendor": "c", "weight": 1.0},
		map[string]any{"name": "x", "description": "y", "vendor": "z", "weight": 2.0},
	)

	ok, reason := e.CanAutoApprove(change)
	assert.False(t, ok)
	assert.Contains(t, reason, "small-safe-updates")
	assert.Contains(t, reason, "fields changed")
}

func TestEngine_SensitiveFieldsAlwaysNeedReview(t *testing.T) {
	e := NewEngine()

	tests := []struct {
		name     string
		current  map[string]any
		proposed map[string]any
	}{
		{"sku", map[string]any{"sku": "WID-001"}, map[string]any{"sku": "WID-002"}},
		{"inventory increase", map[string]any{"inventory": 10}, map[string]any{"inventory": 12}},
		{"small price move", map[string]any{"price": 100.0}, map[string]any{"price": 105.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			change := updateChange(t, tt.current, tt.proposed)
			ok, reason := e.CanAutoApprove(change)
			assert.False(t, ok)
			assert.NotEmpty(t, reason)
		})
	}
}

func TestEngine_LargePriceMoveVetoedByCapRule(t *testing.T) {
	e := NewEngine()
	change := updateChange(t,
		map[string]any{"price": 100.0},
		map[string]any{"price": 130.0},
	)

	ok, reason := e.CanAutoApprove(change)
	assert.False(t, ok)
	// The cap rule runs before the general update rule and owns the veto
	assert.Contains(t, reason, "price-change-cap")
	assert.Contains(t, reason, "threshold")
}

func TestEngine_DeepInventoryCutVetoedByCapRule(t *testing.T) {
	e := NewEngine()
	change := updateChange(t,
		map[string]any{"inventory": 100},
		map[string]any{"inventory": 40},
	)

	ok, reason := e.CanAutoApprove(change)
	assert.False(t, ok)
	assert.Contains(t, reason, "inventory-reduction-cap")
}

func TestEngine_CreationsAlwaysNeedReview(t *testing.T) {
	e := NewEngine()
	change, err := staging.NewStagedChange(staging.EntityTypeProduct, "prod-1", staging.ChangeTypeCreate,
		nil, map[string]any{"name": "Widget"})
	require.NoError(t, err)

	ok, reason := e.CanAutoApprove(change)
	assert.False(t, ok)
	assert.Contains(t, reason, "creations-need-review")
	assert.Contains(t, reason, "manual review")
}

func TestEngine_ConflictsVetoRegardlessOfRules(t *testing.T) {
	// Even an engine with no gating rules holds the conflict line
	e := NewEngine(&Rule{Name: "permissive", RequiresApproval: false})
	change := updateChange(t,
		map[string]any{"name": "Widget"},
		map[string]any{"name": "Gadget"},
	)
	change.MarkConflicts([]string{"name"})

	ok, reason := e.CanAutoApprove(change)
	assert.False(t, ok)
	assert.Contains(t, reason, "conflicts")
}

func TestEngine_NonGatingRulesNeverVeto(t *testing.T) {
	e := NewEngine(&Rule{
		Name:             "observe-only",
		RequiresApproval: false,
	})
	change := updateChange(t,
		map[string]any{"price": 100.0},
		map[string]any{"price": 500.0},
	)

	ok, _ := e.CanAutoApprove(change)
	assert.True(t, ok)
}

func TestEngine_FirstFailingRuleByPriorityWins(t *testing.T) {
	gate := func(name string, priority int) *Rule {
		return &Rule{
			Name:             name,
			ChangeType:       changeTypePtr(staging.ChangeTypeUpdate),
			RequiresApproval: true,
			Priority:         priority,
		}
	}
	// Registration order is irrelevant; priority decides
	e := NewEngine(gate("later", 20), gate("earlier", 10))
	change := updateChange(t, map[string]any{"name": "a"}, map[string]any{"name": "b"})

	ok, reason := e.CanAutoApprove(change)
	assert.False(t, ok)
	assert.Contains(t, reason, "earlier")
}

func TestEngine_RulesAreEditableAtRuntime(t *testing.T) {
	e := NewEngine()
	change := updateChange(t,
		map[string]any{"price": 100.0},
		map[string]any{"price": 105.0},
	)

	ok, _ := e.CanAutoApprove(change)
	require.False(t, ok)

	// Loosen the policy: drop every gate
	e.SetRules([]*Rule{})
	ok, _ = e.CanAutoApprove(change)
	assert.True(t, ok)

	// Tighten it again with a single blanket gate
	e.AddRule(&Rule{Name: "freeze", RequiresApproval: true, Priority: 1})
	ok, reason := e.CanAutoApprove(change)
	assert.False(t, ok)
	assert.Contains(t, reason, "freeze")
}

func TestEngine_RulesReturnsPriorityOrder(t *testing.T) {
	e := NewEngine()
	rules := e.Rules()
	require.NotEmpty(t, rules)
	for i := 1; i < len(rules); i++ {
		assert.LessOrEqual(t, rules[i-1].Priority, rules[i].Priority)
	}
}

func TestEngine_EntityTypeScopedRule(t *testing.T) {
	e := NewEngine(&Rule{
		Name:             "category-freeze",
		EntityType:       entityTypePtr(staging.EntityTypeCategory),
		RequiresApproval: true,
		Priority:         1,
	})

	product := updateChange(t, map[string]any{"name": "a"}, map[string]any{"name": "b"})
	ok, _ := e.CanAutoApprove(product)
	assert.True(t, ok, "product changes are outside the rule's scope")

	category, err := staging.NewStagedChange(staging.EntityTypeCategory, "cat-1", staging.ChangeTypeUpdate,
		map[string]any{"name": "a"}, map[string]any{"name": "b"})
	require.NoError(t, err)
	ok, reason := e.CanAutoApprove(category)
	assert.False(t, ok)
	assert.Contains(t, reason, "category-freeze")
}

func TestExceedsThreshold(t *testing.T) {
	tests := []struct {
		name string
		fc   staging.FieldChange
		th   Threshold
		want bool
	}{
		{"within cap", staging.FieldChange{Old: 100.0, New: 110.0}, Threshold{MaxChangeRatio: 0.20}, false},
		{"at cap", staging.FieldChange{Old: 100.0, New: 120.0}, Threshold{MaxChangeRatio: 0.20}, false},
		{"over cap", staging.FieldChange{Old: 100.0, New: 121.0}, Threshold{MaxChangeRatio: 0.20}, true},
		{"decrease only ignores increases", staging.FieldChange{Old: 100, New: 400}, Threshold{MaxChangeRatio: 0.50, DecreaseOnly: true}, false},
		{"decrease only catches deep cuts", staging.FieldChange{Old: 100, New: 40}, Threshold{MaxChangeRatio: 0.50, DecreaseOnly: true}, true},
		{"from zero", staging.FieldChange{Old: 0.0, New: 1.0}, Threshold{MaxChangeRatio: 0.20}, true},
		{"non-numeric", staging.FieldChange{Old: "a", New: "b"}, Threshold{MaxChangeRatio: 0.20}, false},
		{"unchanged", staging.FieldChange{Old: 50.0, New: 50.0}, Threshold{MaxChangeRatio: 0.0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exceedsThreshold(tt.fc, tt.th))
		})
	}
}
