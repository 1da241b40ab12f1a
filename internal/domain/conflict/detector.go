package conflict

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Similarity thresholds for string value mismatches
const (
	similarityLowThreshold    = 0.8
	similarityMediumThreshold = 0.5
)

// longerStringFactor is the length ratio beyond which the longer string is
// considered the more descriptive one and wins automatically
const longerStringFactor = 1.5

// priceDriftTolerance is the relative difference under which two prices are
// considered near-equal and auto-resolvable
const priceDriftTolerance = 0.10

// Confidence scores per resolution case. Deterministic: identical inputs
// always yield identical scores.
const (
	confidenceMissingField = 0.90
	confidenceTypeMismatch = 0.20
	confidenceNonEmptyWins = 0.85
	confidenceLongerWins   = 0.75
	confidencePriceDrift   = 0.70
	confidenceOneSidedRule = 0.95
	confidenceTwoSidedRule = 0.10
	confidenceUnresolvable = 0.30
)

// Policy holds the tunable resolution defaults. The winner of a near-equal
// price drift has no principled direction, so it is configuration rather
// than algorithm.
type Policy struct {
	// PreferSourceOnPriceDrift picks the source price when two prices differ
	// by less than the tolerance; false prefers the target
	PreferSourceOnPriceDrift bool
}

// DefaultPolicy returns the shipped resolution policy
func DefaultPolicy() Policy {
	return Policy{PreferSourceOnPriceDrift: true}
}

// Detector classifies divergence between two snapshots of the same entity.
// It is pure: no persistence, no shared mutable state, safe for concurrent
// use from multiple workers.
type Detector struct {
	keyField     string
	ignoreFields map[string]struct{}
	rules        []BusinessRule
	policy       Policy
}

// Option configures a Detector
type Option func(*Detector)

// WithKeyField overrides the field used as the entity identifier
func WithKeyField(field string) Option {
	return func(d *Detector) { d.keyField = field }
}

// WithIgnoreFields replaces the set of fields excluded from comparison
func WithIgnoreFields(fields ...string) Option {
	return func(d *Detector) {
		d.ignoreFields = make(map[string]struct{}, len(fields))
		for _, f := range fields {
			d.ignoreFields[f] = struct{}{}
		}
	}
}

// WithRules replaces the business rule set
func WithRules(rules ...BusinessRule) Option {
	return func(d *Detector) { d.rules = rules }
}

// WithPolicy overrides the resolution policy
func WithPolicy(policy Policy) Option {
	return func(d *Detector) { d.policy = policy }
}

// NewDetector creates a detector with the default key field ("id"), the
// default ignore set (id, created_at, updated_at) and the baseline rules.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		keyField: "id",
		ignoreFields: map[string]struct{}{
			"id":         {},
			"created_at": {},
			"updated_at": {},
		},
		rules:  DefaultRules(),
		policy: DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect compares two record snapshots field by field and returns the
// aggregate conflict, or nil when the records agree. Apart from DetectedAt
// the result is a deterministic function of its inputs.
func (d *Detector) Detect(source, target map[string]any) *Conflict {
	fields := d.unionFields(source, target)

	var details []Detail
	for _, field := range fields {
		sourceValue, sourceHas := source[field]
		targetValue, targetHas := target[field]

		// Business rules fire even on agreeing values; a shared violation
		// still blocks application.
		if detail, fired := d.checkBusinessRules(field, sourceValue, targetValue, sourceHas, targetHas); fired {
			details = append(details, detail)
			continue
		}

		switch {
		case sourceHas && !targetHas:
			details = append(details, missingFieldDetail(field, sourceValue, nil, sourceValue))
		case !sourceHas && targetHas:
			details = append(details, missingFieldDetail(field, nil, targetValue, targetValue))
		case reflect.DeepEqual(sourceValue, targetValue):
			// agreement
		case !sameKind(sourceValue, targetValue):
			details = append(details, Detail{
				FieldName:       field,
				Type:            TypeTypeMismatch,
				Severity:        SeverityHigh,
				SourceValue:     sourceValue,
				TargetValue:     targetValue,
				AutoResolvable:  false,
				ConfidenceScore: confidenceTypeMismatch,
			})
		default:
			details = append(details, d.classifyValueMismatch(field, sourceValue, targetValue))
		}
	}

	if len(details) == 0 {
		return nil
	}

	return d.aggregate(source, target, details)
}

// unionFields returns the sorted union of both field sets minus the ignore set
func (d *Detector) unionFields(source, target map[string]any) []string {
	seen := make(map[string]struct{}, len(source)+len(target))
	for f := range source {
		seen[f] = struct{}{}
	}
	for f := range target {
		seen[f] = struct{}{}
	}
	fields := make([]string, 0, len(seen))
	for f := range seen {
		if _, skip := d.ignoreFields[f]; skip {
			continue
		}
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// checkBusinessRules evaluates every applicable rule against both sides.
// A violation on exactly one side is auto-resolvable toward the valid side;
// a violation on both sides is not.
func (d *Detector) checkBusinessRules(field string, sourceValue, targetValue any, sourceHas, targetHas bool) (Detail, bool) {
	for _, rule := range d.rules {
		if !rule.AppliesTo(field) {
			continue
		}
		sourceValid := !sourceHas || rule.Validate(sourceValue)
		targetValid := !targetHas || rule.Validate(targetValue)
		if sourceValid && targetValid {
			continue
		}

		detail := Detail{
			FieldName:   field,
			Type:        TypeBusinessRuleViolation,
			Severity:    SeverityCritical,
			SourceValue: sourceValue,
			TargetValue: targetValue,
		}

		switch {
		case sourceValid && !targetValid:
			detail.AutoResolvable = true
			detail.Strategy = StrategyUseValid
			detail.ResolvedValue = sourceValue
			detail.ConfidenceScore = confidenceOneSidedRule
		case !sourceValid && targetValid:
			detail.AutoResolvable = true
			detail.Strategy = StrategyUseValid
			detail.ResolvedValue = targetValue
			detail.ConfidenceScore = confidenceOneSidedRule
		default:
			detail.AutoResolvable = false
			detail.ConfidenceScore = confidenceTwoSidedRule
		}
		return detail, true
	}
	return Detail{}, false
}

// classifyValueMismatch grades a same-type disagreement and decides
// whether it can be resolved without human input
func (d *Detector) classifyValueMismatch(field string, sourceValue, targetValue any) Detail {
	detail := Detail{
		FieldName:   field,
		Type:        TypeValueMismatch,
		SourceValue: sourceValue,
		TargetValue: targetValue,
	}

	detail.Severity = d.mismatchSeverity(field, sourceValue, targetValue)

	// Empty-vs-populated resolves toward the populated side regardless of type
	sourceEmpty, targetEmpty := isEmptyValue(sourceValue), isEmptyValue(targetValue)
	if sourceEmpty != targetEmpty {
		detail.AutoResolvable = true
		detail.Strategy = StrategyUseNonEmpty
		if sourceEmpty {
			detail.ResolvedValue = targetValue
		} else {
			detail.ResolvedValue = sourceValue
		}
		detail.ConfidenceScore = confidenceNonEmptyWins
		return detail
	}

	if ss, ok := sourceValue.(string); ok {
		if ts, ok := targetValue.(string); ok {
			// A substantially longer string is treated as the more
			// descriptive one and wins
			longer, shorter := ss, ts
			if len(ts) > len(ss) {
				longer, shorter = ts, ss
			}
			if len(shorter) > 0 && float64(len(longer)) >= longerStringFactor*float64(len(shorter)) {
				detail.AutoResolvable = true
				detail.Strategy = StrategyUseLonger
				detail.ResolvedValue = longer
				detail.ConfidenceScore = confidenceLongerWins
				return detail
			}
			detail.ConfidenceScore = similarityRatio(ss, ts)
			return detail
		}
	}

	// Near-equal prices resolve toward the configured side
	if isPriceField(field) {
		if sd, ok := toDecimal(sourceValue); ok {
			if td, ok := toDecimal(targetValue); ok && withinRelativeTolerance(sd, td, priceDriftTolerance) {
				detail.AutoResolvable = true
				if d.policy.PreferSourceOnPriceDrift {
					detail.Strategy = StrategyUseSource
					detail.ResolvedValue = sourceValue
				} else {
					detail.Strategy = StrategyUseTarget
					detail.ResolvedValue = targetValue
				}
				detail.ConfidenceScore = confidencePriceDrift
				return detail
			}
		}
	}

	detail.ConfidenceScore = confidenceUnresolvable
	return detail
}

// mismatchSeverity derives the severity of a value mismatch from the field
// name and, for strings, from how similar the two values are
func (d *Detector) mismatchSeverity(field string, sourceValue, targetValue any) Severity {
	if field == d.keyField || isCriticalField(field) {
		return SeverityCritical
	}
	if isHighValueField(field) {
		return SeverityHigh
	}
	if ss, ok := sourceValue.(string); ok {
		if ts, ok := targetValue.(string); ok {
			ratio := similarityRatio(ss, ts)
			switch {
			case ratio >= similarityLowThreshold:
				return SeverityLow
			case ratio >= similarityMediumThreshold:
				return SeverityMedium
			default:
				return SeverityHigh
			}
		}
	}
	return SeverityMedium
}

// aggregate builds the conflict object and attempts auto-resolution
func (d *Detector) aggregate(source, target map[string]any, details []Detail) *Conflict {
	conflict := &Conflict{
		ID:         uuid.New(),
		EntityID:   keyValue(source, target, d.keyField),
		Details:    details,
		Severity:   SeverityLow,
		DetectedAt: time.Now(),
	}

	allResolvable := true
	resolved := make(map[string]any, len(source))
	for k, v := range source {
		resolved[k] = v
	}
	for _, detail := range details {
		conflict.Severity = MaxSeverity(conflict.Severity, detail.Severity)
		if detail.AutoResolvable {
			resolved[detail.FieldName] = detail.ResolvedValue
		} else {
			allResolvable = false
		}
	}

	// The whole conflict auto-resolves only when every detail does;
	// a single manual field keeps the change gated.
	if allResolvable {
		conflict.AutoResolved = true
		conflict.ResolvedData = resolved
	}

	return conflict
}

// keyValue extracts the entity identifier from whichever side carries it
func keyValue(source, target map[string]any, keyField string) string {
	if v, ok := source[keyField]; ok {
		return fmt.Sprintf("%v", v)
	}
	if v, ok := target[keyField]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// sameKind reports whether two values share a runtime kind. Numeric values
// always compare as the same kind: JSON decoding produces float64 while
// in-process snapshots may carry ints, and that difference is not a
// type mismatch at the domain level.
func sameKind(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if _, aNum := toDecimal(a); aNum {
		_, bNum := toDecimal(b)
		return bNum
	}
	return reflect.TypeOf(a).Kind() == reflect.TypeOf(b).Kind()
}

// isEmptyValue mirrors loose falsiness for catalog snapshots: nil, empty
// strings and collections, zero numbers and false are all empty
func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return val == ""
	case bool:
		return !val
	}
	if d, ok := toDecimal(v); ok {
		return d.IsZero()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	default:
		return false
	}
}

// withinRelativeTolerance reports whether two decimals differ by less than
// tol relative to the larger magnitude
func withinRelativeTolerance(a, b decimal.Decimal, tol float64) bool {
	if a.Equal(b) {
		return true
	}
	larger := decimal.Max(a.Abs(), b.Abs())
	if larger.IsZero() {
		return true
	}
	diff := a.Sub(b).Abs()
	ratio, _ := diff.Div(larger).Float64()
	return ratio < tol
}

// missingFieldDetail builds the detail for a field present on one side only
func missingFieldDetail(field string, sourceValue, targetValue, resolved any) Detail {
	return Detail{
		FieldName:       field,
		Type:            TypeMissingField,
		Severity:        SeverityMedium,
		SourceValue:     sourceValue,
		TargetValue:     targetValue,
		AutoResolvable:  true,
		Strategy:        StrategyUseExisting,
		ResolvedValue:   resolved,
		ConfidenceScore: confidenceMissingField,
	}
}
