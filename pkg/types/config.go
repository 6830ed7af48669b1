package types

import "time"

// AIConfig holds shared settings for stages that call a Generative AI API.
type AIConfig struct {
	// Provider selects the backend: "claude", "openai" or "gemini".
	Provider string `json:"provider" yaml:"provider" mapstructure:"provider"`

	// Model is the AI model identifier (e.g. "claude-sonnet-4-5-20250929").
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// BaseURL overrides the provider endpoint (proxies, local gateways).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`

	// MaxTokens caps the response length (default 8192).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`

	// Timeout bounds a single provider call (default 5m).
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// RequestsPerMinute throttles calls to the provider (0 = unlimited).
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// RetryConfig controls retry of transient provider errors inside the loop.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// InitialDelay is the first backoff wait (default 1s).
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay" mapstructure:"initial_delay"`

	// MaxDelay caps each backoff wait (default 30s).
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay" mapstructure:"max_delay"`
}

// LoopConfig holds settings for one validation–correction run.
type LoopConfig struct {
	// MaxIterations bounds the number of correction rounds (default 3).
	MaxIterations int `json:"max_iterations" yaml:"max_iterations" mapstructure:"max_iterations"`

	// DegradationWindow is the number of trailing steps checked for a
	// monotonic quality decline (default 2).
	DegradationWindow int `json:"degradation_window" yaml:"degradation_window" mapstructure:"degradation_window"`

	// SchemaFloor is the schema-compliance score below which correction is
	// not attempted (default 0.50).
	SchemaFloor float64 `json:"schema_floor" yaml:"schema_floor" mapstructure:"schema_floor"`

	Retry RetryConfig `json:"retry" yaml:"retry" mapstructure:"retry"`

	// Thresholds overrides individual default thresholds of the run's kind.
	Thresholds ThresholdOverrides `json:"thresholds,omitempty" yaml:"thresholds,omitempty" mapstructure:"thresholds"`
}

// ThresholdOverrides replaces the thresholds that are set and keeps the
// kind's defaults for the rest.
type ThresholdOverrides struct {
	Completeness              *float64 `json:"completeness_score,omitempty" yaml:"completeness_score,omitempty" mapstructure:"completeness_score"`
	Accuracy                  *float64 `json:"accuracy_score,omitempty" yaml:"accuracy_score,omitempty" mapstructure:"accuracy_score"`
	CrossReferenceConsistency *float64 `json:"cross_reference_consistency_score,omitempty" yaml:"cross_reference_consistency_score,omitempty" mapstructure:"cross_reference_consistency_score"`
	DataConsistency           *float64 `json:"data_consistency_score,omitempty" yaml:"data_consistency_score,omitempty" mapstructure:"data_consistency_score"`
	SchemaCompliance          *float64 `json:"schema_compliance_score,omitempty" yaml:"schema_compliance_score,omitempty" mapstructure:"schema_compliance_score"`
	MaxCriticalIssues         *int     `json:"critical_issues,omitempty" yaml:"critical_issues,omitempty" mapstructure:"critical_issues"`
}

// Apply returns base with the set overrides applied.
func (o ThresholdOverrides) Apply(base QualityThresholds) QualityThresholds {
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&base.Completeness, o.Completeness)
	set(&base.Accuracy, o.Accuracy)
	set(&base.CrossReferenceConsistency, o.CrossReferenceConsistency)
	set(&base.DataConsistency, o.DataConsistency)
	set(&base.SchemaCompliance, o.SchemaCompliance)
	if o.MaxCriticalIssues != nil {
		base.MaxCriticalIssues = *o.MaxCriticalIssues
	}
	return base
}

// StoreConfig locates the persistence outputs.
type StoreConfig struct {
	// OutputDir receives per-iteration JSON files and the run summary.
	OutputDir string `json:"output_dir" yaml:"output_dir" mapstructure:"output_dir"`

	// DBPath is the SQLite history database (default OutputDir/history.db).
	DBPath string `json:"db_path" yaml:"db_path" mapstructure:"db_path"`
}

// EngineConfig groups all configuration read by the CLI.
type EngineConfig struct {
	AI      AIConfig     `json:"ai" yaml:"ai" mapstructure:"ai"`
	Loop    LoopConfig   `json:"loop" yaml:"loop" mapstructure:"loop"`
	Store   StoreConfig  `json:"store" yaml:"store" mapstructure:"store"`
	Schemas SchemaPaths  `json:"schemas" yaml:"schemas" mapstructure:"schemas"`
	Repair  RepairConfig `json:"repair" yaml:"repair" mapstructure:"repair"`
}

// RepairConfig overrides the identifier heuristic used to recover array
// items. Empty lists keep the built-in defaults.
type RepairConfig struct {
	PreferredIDFields []string `json:"preferred_id_fields,omitempty" yaml:"preferred_id_fields,omitempty" mapstructure:"preferred_id_fields"`
	ExcludedIDFields  []string `json:"excluded_id_fields,omitempty" yaml:"excluded_id_fields,omitempty" mapstructure:"excluded_id_fields"`
}

// SchemaPaths points at the bundled JSON Schemas for each artifact kind.
type SchemaPaths struct {
	Extraction string `json:"extraction" yaml:"extraction" mapstructure:"extraction"`
	Report     string `json:"report" yaml:"report" mapstructure:"report"`
}
