package approval

import (
	"fmt"
	"sort"
	"sync"

	"github.com/catalogsync/backend/internal/domain/staging"
)

// Engine decides whether a staged change may skip human review.
// The rule set is editable at runtime; evaluation itself is pure and safe
// for concurrent use from multiple workers.
type Engine struct {
	mu    sync.RWMutex
	rules []*Rule
}

// NewEngine creates an engine with the given rules, or the baseline policy
// when none are supplied
func NewEngine(rules ...*Rule) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	e := &Engine{}
	e.SetRules(rules)
	return e
}

// SetRules replaces the rule set. Rules are kept sorted by ascending priority.
func (e *Engine) SetRules(rules []*Rule) {
	sorted := make([]*Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	e.mu.Lock()
	e.rules = sorted
	e.mu.Unlock()
}

// AddRule inserts one rule, preserving priority order
func (e *Engine) AddRule(rule *Rule) {
	e.mu.RLock()
	rules := make([]*Rule, len(e.rules), len(e.rules)+1)
	copy(rules, e.rules)
	e.mu.RUnlock()
	e.SetRules(append(rules, rule))
}

// Rules returns a copy of the current rule set in evaluation order
func (e *Engine) Rules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// CanAutoApprove evaluates the rule set against one staged change. The
// evaluation is a short-circuiting conjunction: the first applicable rule
// whose conditions fail vetoes auto-approval, and the veto is final. The
// returned reason names the deciding rule for audit logs.
func (e *Engine) CanAutoApprove(change *staging.StagedChange) (bool, string) {
	// Conflicts always require a human, regardless of any rule
	if change.HasConflicts {
		return false, "change has unresolved conflicts"
	}

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, rule := range rules {
		if !rule.AppliesTo(change) {
			continue
		}
		if !rule.RequiresApproval {
			continue
		}
		if reason, ok := e.satisfies(rule, change); !ok {
			return false, fmt.Sprintf("rule %q: %s", rule.Name, reason)
		}
	}
	return true, ""
}

// satisfies checks one applicable gating rule against the change
func (e *Engine) satisfies(rule *Rule, change *staging.StagedChange) (string, bool) {
	if rule.AutoApprove == nil {
		return "manual review required", false
	}

	cond := rule.AutoApprove
	if cond.RequireNoConflicts && change.HasConflicts {
		return "conflicts present", false
	}
	if cond.MaxFieldsChanged > 0 && len(change.FieldChanges) > cond.MaxFieldsChanged {
		return fmt.Sprintf("%d fields changed, cap is %d", len(change.FieldChanges), cond.MaxFieldsChanged), false
	}
	for field := range change.FieldChanges {
		if matchesAny(field, cond.ExcludedFields) {
			return fmt.Sprintf("field %q requires review", field), false
		}
	}
	for pattern, threshold := range rule.ValueThresholds {
		for field, fc := range change.FieldChanges {
			if !matchesAny(field, []string{pattern}) {
				continue
			}
			if exceedsThreshold(fc, threshold) {
				return fmt.Sprintf("field %q exceeds change threshold", field), false
			}
		}
	}
	return "", true
}
