package remote

import (
	"regexp"
	"strconv"
	"strings"
)

// Base costs per entity kind, mirroring the platform's published query cost
// model. The estimate only steers batch sizing; the authoritative cost is
// whatever the platform reports back on the response.
const (
	baseCostObject      = 1
	baseCostConnection  = 2
	costPerNestingLevel = 1
)

var pageSizePattern = regexp.MustCompile(`(?:first|last)\s*:\s*(\d+)`)

// CostModel produces static cost estimates for queries before they are sent
type CostModel struct {
	// SubBatchCeiling is the largest predicted cost a single sub-batch may
	// accumulate before the executor cuts it off
	SubBatchCeiling int
}

// NewCostModel creates a cost model with the given sub-batch ceiling
func NewCostModel(subBatchCeiling int) *CostModel {
	if subBatchCeiling <= 0 {
		subBatchCeiling = 1000
	}
	return &CostModel{SubBatchCeiling: subBatchCeiling}
}

// PredictCost estimates the cost of a query from its shape and variables:
// a base cost per requested object, the cardinality of any requested page,
// the length of any bulk-id list, and a small constant per nesting level.
func (m *CostModel) PredictCost(query string, variables map[string]any) int {
	cost := baseCostObject

	// Each requested page contributes its cardinality
	for _, match := range pageSizePattern.FindAllStringSubmatch(query, -1) {
		if n, err := strconv.Atoi(match[1]); err == nil {
			cost += baseCostConnection + n
		}
	}

	// Bulk-id lists fan out to one object each
	for _, value := range variables {
		switch v := value.(type) {
		case []string:
			cost += len(v)
		case []any:
			cost += len(v)
		}
	}

	cost += nestingDepth(query) * costPerNestingLevel

	return cost
}

// nestingDepth returns the maximum brace depth of the query body
func nestingDepth(query string) int {
	depth, deepest := 0, 0
	for _, r := range query {
		switch r {
		case '{':
			depth++
			if depth > deepest {
				deepest = depth
			}
		case '}':
			if depth > 0 {
				depth--
			}
		}
	}
	return deepest
}

// FitsInSubBatch reports whether adding predicted cost c to a sub-batch
// already carrying accumulated cost keeps it under the ceiling
func (m *CostModel) FitsInSubBatch(accumulated, c int) bool {
	if accumulated == 0 {
		// A single oversized item still has to go somewhere
		return true
	}
	return accumulated+c <= m.SubBatchCeiling
}

// trimmedQueryKind extracts a coarse operation kind for logging
func trimmedQueryKind(query string) string {
	q := strings.TrimSpace(query)
	if strings.HasPrefix(q, "mutation") {
		return "mutation"
	}
	return "query"
}
