// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package quality

import "github.com/pdiddy/trial-engine/pkg/types"

// DefaultWindow is the number of trailing steps checked for degradation.
const DefaultWindow = 2

// IsDegrading reports whether overall quality fell strictly at each of the
// last window steps. It needs window+1 iterations; with fewer, or a
// non-positive window, it reports false.
func IsDegrading(iterations []types.Iteration, window int) bool {
	if window <= 0 || len(iterations) < window+1 {
		return false
	}
	tail := iterations[len(iterations)-window-1:]
	for i := 1; i < len(tail); i++ {
		if tail[i].Metrics.OverallQuality >= tail[i-1].Metrics.OverallQuality {
			return false
		}
	}
	return true
}

// Trajectory returns the overall quality of each iteration in order.
func Trajectory(iterations []types.Iteration) []float64 {
	out := make([]float64, len(iterations))
	for i, it := range iterations {
		out[i] = it.Metrics.OverallQuality
	}
	return out
}
