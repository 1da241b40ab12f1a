package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostModel_PredictCost(t *testing.T) {
	m := NewCostModel(1000)

	tests := []struct {
		name      string
		query     string
		variables map[string]any
		want      int
	}{
		{
			name:  "single object",
			query: `query { product { id } }`,
			// base 1 + nesting 2
			want: 3,
		},
		{
			name:  "paged connection",
			query: `query { products(first: 10) { edges { node { id } } } }`,
			// base 1 + connection 2 + page 10 + nesting 4
			want: 17,
		},
		{
			name:      "bulk id list fans out",
			query:     `query { nodes { id } }`,
			variables: map[string]any{"ids": []any{"a", "b", "c"}},
			// base 1 + 3 ids + nesting 2
			want: 6,
		},
		{
			name:  "multiple pages accumulate",
			query: `query { products(first: 5) { variants(first: 3) { id } } }`,
			// base 1 + (2+5) + (2+3) + nesting 3
			want: 16,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.PredictCost(tt.query, tt.variables))
		})
	}
}

func TestCostModel_FitsInSubBatch(t *testing.T) {
	m := NewCostModel(100)

	assert.True(t, m.FitsInSubBatch(0, 500), "an oversized item still needs a sub-batch")
	assert.True(t, m.FitsInSubBatch(50, 50))
	assert.False(t, m.FitsInSubBatch(50, 51))
}

func TestCostModel_DefaultCeiling(t *testing.T) {
	assert.Equal(t, 1000, NewCostModel(0).SubBatchCeiling)
	assert.Equal(t, 250, NewCostModel(250).SubBatchCeiling)
}

func TestNestingDepth(t *testing.T) {
	assert.Equal(t, 0, nestingDepth("no braces"))
	assert.Equal(t, 1, nestingDepth("{ flat }"))
	assert.Equal(t, 3, nestingDepth("{ a { b { c } } }"))
	// Unbalanced closers never go negative
	assert.Equal(t, 1, nestingDepth("} { a }"))
}

func TestTrimmedQueryKind(t *testing.T) {
	assert.Equal(t, "mutation", trimmedQueryKind("  mutation x { y }"))
	assert.Equal(t, "query", trimmedQueryKind("query { y }"))
	assert.Equal(t, "query", trimmedQueryKind("{ y }"))
}
