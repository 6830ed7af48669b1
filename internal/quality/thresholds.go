// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package quality

import (
	"fmt"

	"github.com/pdiddy/trial-engine/pkg/types"
)

// ExtractionThresholds are the default sufficiency thresholds for raw
// extractions.
var ExtractionThresholds = types.QualityThresholds{
	Completeness:      0.90,
	Accuracy:          0.95,
	SchemaCompliance:  0.95,
	MaxCriticalIssues: 0,
}

// ReportThresholds are the default sufficiency thresholds for generated
// reports.
var ReportThresholds = types.QualityThresholds{
	Completeness:              0.85,
	Accuracy:                  0.95,
	CrossReferenceConsistency: 0.90,
	DataConsistency:           0.90,
	SchemaCompliance:          0.95,
	MaxCriticalIssues:         0,
}

// ThresholdsFor returns the default thresholds of an artifact kind.
func ThresholdsFor(kind types.Kind) (types.QualityThresholds, error) {
	switch kind {
	case types.KindExtraction:
		return ExtractionThresholds, nil
	case types.KindReport:
		return ReportThresholds, nil
	default:
		return types.QualityThresholds{}, fmt.Errorf("unknown artifact kind %q", kind)
	}
}

// Sufficient reports whether m meets every threshold at once. Scores pass
// at or above their minimum; critical issues pass at or below the maximum.
func Sufficient(m types.Metrics, t types.QualityThresholds) bool {
	return len(Failures(m, t)) == 0
}

// Failures lists the thresholds m misses, in a fixed order, formatted for
// logs and correction prompts.
func Failures(m types.Metrics, t types.QualityThresholds) []string {
	checks := []struct {
		name     string
		got, min float64
	}{
		{"completeness_score", m.Completeness, t.Completeness},
		{"accuracy_score", m.Accuracy, t.Accuracy},
		{"cross_reference_consistency_score", m.CrossReferenceConsistency, t.CrossReferenceConsistency},
		{"data_consistency_score", m.DataConsistency, t.DataConsistency},
		{"schema_compliance_score", m.SchemaCompliance, t.SchemaCompliance},
	}

	var failed []string
	for _, c := range checks {
		if c.got < c.min {
			failed = append(failed, fmt.Sprintf("%s %.2f < %.2f", c.name, c.got, c.min))
		}
	}
	if m.CriticalIssues > t.MaxCriticalIssues {
		failed = append(failed, fmt.Sprintf("critical_issues %d > %d", m.CriticalIssues, t.MaxCriticalIssues))
	}
	return failed
}
