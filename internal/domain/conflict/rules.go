package conflict

import (
	"strings"

	"github.com/shopspring/decimal"
)

// BusinessRule validates a single field value. Rules are evaluated against
// both sides of a comparison independently; a violation on exactly one side
// is auto-resolvable toward the valid side.
type BusinessRule interface {
	// Name identifies the rule in conflict details and logs
	Name() string
	// AppliesTo reports whether the rule cares about the given field
	AppliesTo(field string) bool
	// Validate returns false when the value violates the rule.
	// Absent values (nil) are treated as valid; missing-field handling is
	// the detector's concern, not the rule's.
	Validate(value any) bool
}

// DefaultRules returns the baseline catalog validation rules
func DefaultRules() []BusinessRule {
	return []BusinessRule{
		PositivePriceRule{},
		AlphanumericSKURule{},
		EmailFormatRule{},
	}
}

// ---------------------------------------------------------------------------
// PositivePriceRule
// ---------------------------------------------------------------------------

// PositivePriceRule requires price-like fields to be strictly positive
type PositivePriceRule struct{}

// Name identifies the rule
func (PositivePriceRule) Name() string { return "positive_price" }

// AppliesTo matches price-like fields
func (PositivePriceRule) AppliesTo(field string) bool {
	return isPriceField(field)
}

// Validate returns false for zero or negative prices
func (PositivePriceRule) Validate(value any) bool {
	if value == nil {
		return true
	}
	d, ok := toDecimal(value)
	if !ok {
		// Non-numeric price values are a type problem, not a rule violation
		return true
	}
	return d.IsPositive()
}

// ---------------------------------------------------------------------------
// AlphanumericSKURule
// ---------------------------------------------------------------------------

// AlphanumericSKURule requires SKU fields to be non-empty alphanumeric
// (dashes and underscores allowed, matching common platform SKU formats)
type AlphanumericSKURule struct{}

// Name identifies the rule
func (AlphanumericSKURule) Name() string { return "alphanumeric_sku" }

// AppliesTo matches SKU fields
func (AlphanumericSKURule) AppliesTo(field string) bool {
	return strings.Contains(strings.ToLower(field), "sku")
}

// Validate returns false for empty or non-alphanumeric SKUs
func (AlphanumericSKURule) Validate(value any) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	if !ok {
		return true
	}
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// EmailFormatRule
// ---------------------------------------------------------------------------

// EmailFormatRule requires email fields to at least contain an "@"
type EmailFormatRule struct{}

// Name identifies the rule
func (EmailFormatRule) Name() string { return "email_format" }

// AppliesTo matches email fields
func (EmailFormatRule) AppliesTo(field string) bool {
	return strings.Contains(strings.ToLower(field), "email")
}

// Validate returns false for non-empty strings without an "@"
func (EmailFormatRule) Validate(value any) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	if !ok {
		return true
	}
	if s == "" {
		return true
	}
	return strings.Contains(s, "@")
}

// ---------------------------------------------------------------------------
// Field classification helpers
// ---------------------------------------------------------------------------

// isPriceField reports whether a field name denotes a monetary value
func isPriceField(field string) bool {
	f := strings.ToLower(field)
	return strings.Contains(f, "price") || strings.Contains(f, "cost") || strings.Contains(f, "amount")
}

// isCriticalField reports whether a mismatch on the field is always critical
func isCriticalField(field string) bool {
	f := strings.ToLower(field)
	if isPriceField(f) {
		return true
	}
	if strings.Contains(f, "sku") || strings.Contains(f, "email") {
		return true
	}
	return f == "id" || f == "uuid" || strings.HasSuffix(f, "_id")
}

// isHighValueField reports whether a mismatch on the field is at least high
func isHighValueField(field string) bool {
	switch strings.ToLower(field) {
	case "name", "title", "description", "status":
		return true
	default:
		return false
	}
}

// toDecimal converts the numeric types a JSON snapshot can carry
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
