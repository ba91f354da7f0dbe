// Package drift detects distribution shift in production algorithm decisions.
package drift

import "math"

// klEpsilon smooths zero-probability buckets so the divergence stays finite
// when a category appears in only one of the two distributions.
const klEpsilon = 1e-8

// KLDivergence computes the Kullback-Leibler divergence D(current || baseline)
// in nats over the union of category buckets. Both inputs are proportion maps
// and are re-normalized after smoothing, so slightly unnormalized inputs are
// tolerated. The result is always >= 0; identical distributions yield 0.
func KLDivergence(current, baseline map[string]float64) float64 {
	keys := map[string]struct{}{}
	for k := range current {
		keys[k] = struct{}{}
	}
	for k := range baseline {
		keys[k] = struct{}{}
	}
	if len(keys) == 0 {
		return 0
	}

	var pSum, qSum float64
	for k := range keys {
		pSum += current[k] + klEpsilon
		qSum += baseline[k] + klEpsilon
	}

	var div float64
	for k := range keys {
		p := (current[k] + klEpsilon) / pSum
		q := (baseline[k] + klEpsilon) / qSum
		div += p * math.Log(p/q)
	}

	// Floating point can push a zero divergence slightly negative.
	if div < 0 {
		return 0
	}
	return div
}
