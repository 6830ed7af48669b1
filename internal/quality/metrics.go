// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package quality turns validation responses into scorecards and decides
// sufficiency, degradation and the best iteration of a run. Every function
// here is pure.
package quality

import (
	"fmt"

	"github.com/pdiddy/trial-engine/pkg/types"
)

// StatusUnknown is reported when the validator omits overall_status.
const StatusUnknown = "unknown"

// ExtractionWeights is the canonical weighting for raw extractions. The
// extraction validator does not score cross-references or data consistency
// separately, so those carry no weight.
var ExtractionWeights = types.Weights{
	Accuracy:         0.40,
	Completeness:     0.35,
	SchemaCompliance: 0.25,
}

// ReportWeights is the canonical weighting for generated reports.
var ReportWeights = types.Weights{
	Accuracy:                  0.35,
	Completeness:              0.30,
	CrossReferenceConsistency: 0.10,
	DataConsistency:           0.10,
	SchemaCompliance:          0.15,
}

// WeightsFor returns the canonical weights of an artifact kind.
func WeightsFor(kind types.Kind) (types.Weights, error) {
	switch kind {
	case types.KindExtraction:
		return ExtractionWeights, nil
	case types.KindReport:
		return ReportWeights, nil
	default:
		return types.Weights{}, fmt.Errorf("unknown artifact kind %q", kind)
	}
}

// ExtractMetrics normalizes a validation result into a scorecard. Missing
// scores read as 0. A missing critical_issues count also reads as 0, which
// lets the loop make progress when a validator omits the field. A
// pre-computed overall quality is taken verbatim; otherwise it is the
// weighted sum of the component scores.
func ExtractMetrics(vr types.ValidationResult, w types.Weights) types.Metrics {
	s := vr.Summary
	m := types.Metrics{
		Completeness:              deref(s.CompletenessScore),
		Accuracy:                  deref(s.AccuracyScore),
		CrossReferenceConsistency: deref(s.CrossReferenceConsistencyScore),
		DataConsistency:           deref(s.DataConsistencyScore),
		SchemaCompliance:          deref(s.SchemaComplianceScore),
		OverallStatus:             s.OverallStatus,
	}
	if s.CriticalIssues != nil {
		m.CriticalIssues = *s.CriticalIssues
	}
	if m.OverallStatus == "" {
		m.OverallStatus = StatusUnknown
	}

	if s.OverallQualityScore != nil {
		m.OverallQuality = *s.OverallQualityScore
	} else {
		m.OverallQuality = WeightedQuality(m, w)
	}
	return m
}

// WeightedQuality returns the weighted sum of the component scores of m.
func WeightedQuality(m types.Metrics, w types.Weights) float64 {
	return m.Accuracy*w.Accuracy +
		m.Completeness*w.Completeness +
		m.CrossReferenceConsistency*w.CrossReferenceConsistency +
		m.DataConsistency*w.DataConsistency +
		m.SchemaCompliance*w.SchemaCompliance
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
