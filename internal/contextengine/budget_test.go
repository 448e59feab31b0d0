package contextengine

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisclosureForDepth(t *testing.T) {
	require.Equal(t, Full, DisclosureForDepth(0))
	require.Equal(t, Summary, DisclosureForDepth(1))
	require.Equal(t, Essential, DisclosureForDepth(2))
	require.Equal(t, Essential, DisclosureForDepth(3))
}

// TestDisclosureRatiosNonIncreasing checks that the compression ratio is
// non-increasing in depth and exactly {1.0, 0.5, 0.25} for depths 0,1,2+.
func TestDisclosureRatiosNonIncreasing(t *testing.T) {
	assert.Equal(t, 1.0, Full.CompressionRatio())
	assert.Equal(t, 0.5, Summary.CompressionRatio())
	assert.Equal(t, 0.25, Essential.CompressionRatio())
	assert.Equal(t, 0.1, Minimal.CompressionRatio())

	props := gopter.NewProperties(nil)
	props.Property("ratio is non-increasing as depth grows", prop.ForAll(
		func(depth int) bool {
			a := DisclosureForDepth(depth).CompressionRatio()
			b := DisclosureForDepth(depth + 1).CompressionRatio()
			return b <= a
		},
		gen.IntRange(0, 50),
	))
	props.TestingRun(t)
}

// TestAllocationConservesBudget checks that the allocation
// itself never promises more input tokens than the budget holds.
func TestAllocationConservesBudget(t *testing.T) {
	props := gopter.NewProperties(nil)
	props.Property("system+context+input+output <= total (+ rounding slack)", prop.ForAll(
		func(total int, depth int) bool {
			b := NewBudget(total)
			a := b.AllocationForDepth(depth)
			sum := a.SystemTokens + a.ContextTokens + a.InputTokens + a.OutputTokens
			// Rounding from independent percentage splits can land within a few
			// tokens of the total; it must never grossly exceed it.
			return sum <= total+4
		},
		gen.IntRange(0, 200000),
		gen.IntRange(0, 5),
	))
	props.TestingRun(t)
}

func TestAllocationForDepthSharesShiftWithDepth(t *testing.T) {
	b := NewBudget(8192)
	d0 := b.AllocationForDepth(0)
	d1 := b.AllocationForDepth(1)
	d2 := b.AllocationForDepth(2)

	// Deeper levels gain input share, lose inherited-context share.
	assert.Greater(t, d0.ContextTokens, d1.ContextTokens)
	assert.Greater(t, d1.ContextTokens, d2.ContextTokens)
	assert.Less(t, d0.InputTokens, d1.InputTokens)
	assert.Less(t, d1.InputTokens, d2.InputTokens)
}
