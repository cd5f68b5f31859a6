package pdisk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimateColorMonotonic(t *testing.T) {
	t.Parallel()

	limits := ChunkLimits()
	r := NewQuotaRecord("test", limits)
	r.ForceHardLimit(64)

	prev := Green
	for alloc := int64(0); alloc <= 80; alloc += 4 {
		c := r.EstimateColor(alloc)
		require.GreaterOrEqual(t, int(c), int(prev), "colour must not soften as alloc grows (alloc=%d)", alloc)
		prev = c
	}
}

func TestEstimateColorThresholds(t *testing.T) {
	t.Parallel()

	limits := ColorLimits{Cyan: 32, Yellow: 16, LightOrange: 8, Orange: 4, Red: 2, Black: 1}
	r := NewQuotaRecord("test", limits)
	r.ForceHardLimit(100)

	cases := []struct {
		used int64
		want Color
	}{
		{used: 0, want: Green},
		{used: 100 - 32, want: Cyan},
		{used: 100 - 16, want: Yellow},
		{used: 100 - 8, want: LightOrange},
		{used: 100 - 4, want: Orange},
		{used: 100 - 2, want: Red},
		{used: 100 - 1, want: Black},
		{used: 100, want: Black},
	}
	for _, tc := range cases {
		r.ForceAllocate(tc.used - r.Used())
		require.Equal(t, tc.want, r.EstimateColor(0), "used=%d", tc.used)
	}
}

func TestColorCombine(t *testing.T) {
	t.Parallel()

	require.Equal(t, Orange, combine(Cyan, Orange))
	require.Equal(t, Orange, combine(Orange, Cyan))
	require.Equal(t, Cyan, minColor(Cyan, Orange))
	require.Equal(t, Cyan, minColor(Orange, Cyan))
}
