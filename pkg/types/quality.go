// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Metrics is the flat scorecard derived from a ValidationResult.
type Metrics struct {
	Completeness              float64 `json:"completeness_score" yaml:"completeness_score"`
	Accuracy                  float64 `json:"accuracy_score" yaml:"accuracy_score"`
	CrossReferenceConsistency float64 `json:"cross_reference_consistency_score" yaml:"cross_reference_consistency_score"`
	DataConsistency           float64 `json:"data_consistency_score" yaml:"data_consistency_score"`
	SchemaCompliance          float64 `json:"schema_compliance_score" yaml:"schema_compliance_score"`
	CriticalIssues            int     `json:"critical_issues" yaml:"critical_issues"`
	OverallQuality            float64 `json:"overall_quality" yaml:"overall_quality"`
	OverallStatus             string  `json:"overall_status" yaml:"overall_status"`
}

// Weights is the weight vector used to compute overall quality. The
// components sum to 1.0.
type Weights struct {
	Accuracy                  float64 `json:"accuracy" yaml:"accuracy"`
	Completeness              float64 `json:"completeness" yaml:"completeness"`
	CrossReferenceConsistency float64 `json:"cross_reference_consistency" yaml:"cross_reference_consistency"`
	DataConsistency           float64 `json:"data_consistency" yaml:"data_consistency"`
	SchemaCompliance          float64 `json:"schema_compliance" yaml:"schema_compliance"`
}

// Sum returns the total of all components.
func (w Weights) Sum() float64 {
	return w.Accuracy + w.Completeness + w.CrossReferenceConsistency + w.DataConsistency + w.SchemaCompliance
}

// QualityThresholds holds the minimum score for each component and the
// maximum tolerated number of critical issues. A zero minimum always passes.
type QualityThresholds struct {
	Completeness              float64 `json:"completeness_score" yaml:"completeness_score" mapstructure:"completeness_score"`
	Accuracy                  float64 `json:"accuracy_score" yaml:"accuracy_score" mapstructure:"accuracy_score"`
	CrossReferenceConsistency float64 `json:"cross_reference_consistency_score" yaml:"cross_reference_consistency_score" mapstructure:"cross_reference_consistency_score"`
	DataConsistency           float64 `json:"data_consistency_score" yaml:"data_consistency_score" mapstructure:"data_consistency_score"`
	SchemaCompliance          float64 `json:"schema_compliance_score" yaml:"schema_compliance_score" mapstructure:"schema_compliance_score"`
	MaxCriticalIssues         int     `json:"critical_issues" yaml:"critical_issues" mapstructure:"critical_issues"`
}

// Iteration is one scored step of a control-loop run. It is never mutated
// after it is appended to the history.
type Iteration struct {
	Index      int              `json:"iteration" yaml:"iteration"`
	Artifact   Artifact         `json:"artifact" yaml:"artifact"`
	Validation ValidationResult `json:"validation" yaml:"validation"`
	Metrics    Metrics          `json:"metrics" yaml:"metrics"`
	Timestamp  time.Time        `json:"timestamp" yaml:"timestamp"`
}
