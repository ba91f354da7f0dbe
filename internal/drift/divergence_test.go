package drift

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKLDivergence_IdenticalIsZero(t *testing.T) {
	t.Parallel()

	dist := map[string]float64{"normal": 0.7, "surge_1.5x": 0.2, "surge_2x": 0.1}
	assert.InDelta(t, 0.0, KLDivergence(dist, dist), 1e-6)
}

func TestKLDivergence_NonNegative(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		current  map[string]float64
		baseline map[string]float64
	}{
		{
			name:     "small shift",
			current:  map[string]float64{"a": 0.6, "b": 0.4},
			baseline: map[string]float64{"a": 0.5, "b": 0.5},
		},
		{
			name:     "disjoint buckets",
			current:  map[string]float64{"a": 1.0},
			baseline: map[string]float64{"b": 1.0},
		},
		{
			name:     "new bucket appears",
			current:  map[string]float64{"a": 0.5, "b": 0.3, "c": 0.2},
			baseline: map[string]float64{"a": 0.6, "b": 0.4},
		},
		{
			name:     "unnormalized inputs",
			current:  map[string]float64{"a": 3, "b": 1},
			baseline: map[string]float64{"a": 1, "b": 1},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.GreaterOrEqual(t, KLDivergence(tc.current, tc.baseline), 0.0)
		})
	}
}

func TestKLDivergence_GrowsWithShift(t *testing.T) {
	t.Parallel()

	baseline := map[string]float64{"normal": 0.8, "surge_2x": 0.2}
	small := map[string]float64{"normal": 0.7, "surge_2x": 0.3}
	large := map[string]float64{"normal": 0.2, "surge_2x": 0.8}

	assert.Greater(t, KLDivergence(large, baseline), KLDivergence(small, baseline))
}

func TestKLDivergence_DisjointIsFinite(t *testing.T) {
	t.Parallel()

	kl := KLDivergence(map[string]float64{"a": 1.0}, map[string]float64{"b": 1.0})
	assert.Greater(t, kl, 1.0)
	assert.Less(t, kl, 40.0)
}

func TestKLDivergence_Empty(t *testing.T) {
	t.Parallel()

	assert.Zero(t, KLDivergence(nil, nil))
	assert.GreaterOrEqual(t, KLDivergence(map[string]float64{"a": 1}, nil), 0.0)
}

func TestKLDivergence_Asymmetric(t *testing.T) {
	t.Parallel()

	p := map[string]float64{"a": 0.9, "b": 0.1}
	q := map[string]float64{"a": 0.5, "b": 0.5}
	assert.NotEqual(t, KLDivergence(p, q), KLDivergence(q, p))
}
