// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package quality

import (
	"errors"

	"github.com/pdiddy/trial-engine/pkg/types"
)

// ErrEmptyInput is returned by SelectBest for an empty history.
var ErrEmptyInput = errors.New("no iterations to select from")

// Selection reasons reported alongside the chosen iteration.
const (
	ReasonOnlyIteration = "only iteration"
	ReasonBestQuality   = "highest quality without critical issues"
	ReasonLeastBad      = "highest quality; every iteration has critical issues"
)

// SelectBest picks the iteration to keep. Iterations without critical
// issues always beat those with any; ties fall to higher overall quality,
// then higher accuracy, then the earliest index.
func SelectBest(iterations []types.Iteration) (types.Iteration, string, error) {
	if len(iterations) == 0 {
		return types.Iteration{}, "", ErrEmptyInput
	}
	if len(iterations) == 1 {
		return iterations[0], ReasonOnlyIteration, nil
	}

	best := iterations[0]
	for _, it := range iterations[1:] {
		if better(it, best) {
			best = it
		}
	}

	if best.Metrics.CriticalIssues == 0 {
		return best, ReasonBestQuality, nil
	}
	return best, ReasonLeastBad, nil
}

// better reports whether a strictly outranks b.
func better(a, b types.Iteration) bool {
	aClean, bClean := a.Metrics.CriticalIssues == 0, b.Metrics.CriticalIssues == 0
	if aClean != bClean {
		return aClean
	}
	if a.Metrics.OverallQuality != b.Metrics.OverallQuality {
		return a.Metrics.OverallQuality > b.Metrics.OverallQuality
	}
	if a.Metrics.Accuracy != b.Metrics.Accuracy {
		return a.Metrics.Accuracy > b.Metrics.Accuracy
	}
	return a.Index < b.Index
}
