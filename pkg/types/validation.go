// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// ValidationSummary is the scored part of a validation response. Numeric
// fields are pointers so a missing field can be told apart from a zero.
type ValidationSummary struct {
	CompletenessScore              *float64 `json:"completeness_score,omitempty" yaml:"completeness_score,omitempty"`
	AccuracyScore                  *float64 `json:"accuracy_score,omitempty" yaml:"accuracy_score,omitempty"`
	CrossReferenceConsistencyScore *float64 `json:"cross_reference_consistency_score,omitempty" yaml:"cross_reference_consistency_score,omitempty"`
	DataConsistencyScore           *float64 `json:"data_consistency_score,omitempty" yaml:"data_consistency_score,omitempty"`
	SchemaComplianceScore          *float64 `json:"schema_compliance_score,omitempty" yaml:"schema_compliance_score,omitempty"`

	// OverallQualityScore, when present, is used verbatim instead of the
	// weighted sum.
	OverallQualityScore *float64 `json:"overall_quality_score,omitempty" yaml:"overall_quality_score,omitempty"`

	CriticalIssues *int   `json:"critical_issues,omitempty" yaml:"critical_issues,omitempty"`
	OverallStatus  string `json:"overall_status,omitempty" yaml:"overall_status,omitempty"`
}

// ValidationIssue is one finding reported by the validator.
type ValidationIssue struct {
	Severity   string `json:"severity" yaml:"severity"`
	Category   string `json:"category,omitempty" yaml:"category,omitempty"`
	Field      string `json:"field,omitempty" yaml:"field,omitempty"`
	Message    string `json:"message" yaml:"message"`
	Suggestion string `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
}

// ValidationResult is the structured output of one validation call.
type ValidationResult struct {
	Summary ValidationSummary `json:"validation_summary" yaml:"validation_summary"`
	Issues  []ValidationIssue `json:"issues,omitempty" yaml:"issues,omitempty"`

	// SchemaErrors holds mechanical JSON Schema violations found before
	// the LLM validation call. The corrector sees them verbatim.
	SchemaErrors []string `json:"schema_errors,omitempty" yaml:"schema_errors,omitempty"`
}

// Float returns a pointer to v. It keeps literals in tests and fixtures short.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// CloneValidation returns a copy of vr that shares no pointers or slices
// with it.
func CloneValidation(vr ValidationResult) ValidationResult {
	s := vr.Summary
	out := ValidationResult{
		Summary: ValidationSummary{
			CompletenessScore:              cloneFloat(s.CompletenessScore),
			AccuracyScore:                  cloneFloat(s.AccuracyScore),
			CrossReferenceConsistencyScore: cloneFloat(s.CrossReferenceConsistencyScore),
			DataConsistencyScore:           cloneFloat(s.DataConsistencyScore),
			SchemaComplianceScore:          cloneFloat(s.SchemaComplianceScore),
			OverallQualityScore:            cloneFloat(s.OverallQualityScore),
			OverallStatus:                  s.OverallStatus,
		},
	}
	if s.CriticalIssues != nil {
		out.Summary.CriticalIssues = Int(*s.CriticalIssues)
	}
	if vr.Issues != nil {
		out.Issues = append([]ValidationIssue(nil), vr.Issues...)
	}
	if vr.SchemaErrors != nil {
		out.SchemaErrors = append([]string(nil), vr.SchemaErrors...)
	}
	return out
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return Float(*p)
}
