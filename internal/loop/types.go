// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package loop

import (
	"context"
	"fmt"

	"github.com/pdiddy/trial-engine/pkg/types"
)

// Input is the per-run context handed to every collaborator.
type Input struct {
	Kind types.Kind

	// Name identifies the run's subject (usually the source file stem).
	Name string

	// Source is the text the artifact is extracted from.
	Source string

	// Upstream is an artifact this run builds on, such as the extraction a
	// report is generated from. May be nil.
	Upstream types.Artifact

	// Schema is the bundled JSON Schema of the artifact. May be nil, in
	// which case repair only copies the corrected artifact.
	Schema map[string]any
}

// Generator produces the initial artifact.
type Generator interface {
	Generate(ctx context.Context, in Input) (types.Artifact, error)
}

// Validator scores an artifact.
type Validator interface {
	Validate(ctx context.Context, artifact types.Artifact, in Input) (types.ValidationResult, error)
}

// Corrector rewrites an artifact using its validation result.
type Corrector interface {
	Correct(ctx context.Context, artifact types.Artifact, vr types.ValidationResult, in Input) (types.Artifact, error)
}

// Sink persists iterations. Failures are logged and never change the
// outcome of a run.
type Sink interface {
	SaveIteration(ctx context.Context, it types.Iteration) error
	SaveBest(ctx context.Context, it types.Iteration) error
}

// Finisher is implemented by sinks that also record the terminal result.
type Finisher interface {
	Finish(ctx context.Context, res Result) error
}

// Progress receives observability events. It cannot affect control flow.
type Progress interface {
	Event(step, status string, payload map[string]any)
}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(step, status string, payload map[string]any)

// Event calls f.
func (f ProgressFunc) Event(step, status string, payload map[string]any) { f(step, status, payload) }

// Upstream describes an artifact a run depends on.
type Upstream struct {
	Name    string
	Present bool
	Failed  bool
}

// Gate holds the preconditions checked before any iteration starts.
type Gate struct {
	// UpstreamQuality is the overall quality of the upstream artifact,
	// when known.
	UpstreamQuality *float64

	// Floor is the minimum UpstreamQuality. Zero uses the kind's default.
	Floor float64

	// Required lists upstream artifacts that must be present and not failed.
	Required []Upstream
}

// DefaultGateFloor returns the minimum upstream quality for a kind. A
// report is only generated from an extraction scoring at least 0.70.
func DefaultGateFloor(kind types.Kind) float64 {
	if kind == types.KindReport {
		return 0.70
	}
	return 0
}

// Request describes one run.
type Request struct {
	Input Input
	Gate  Gate

	// Thresholds overrides the kind's default thresholds when non-nil.
	Thresholds *types.QualityThresholds

	// Weights overrides the kind's canonical weights when non-nil.
	Weights *types.Weights

	// MaxIterations bounds correction rounds: the run stops after
	// validating iteration MaxIterations.
	MaxIterations int

	// Window is the degradation window. Zero uses quality.DefaultWindow.
	Window int
}

// Status is the terminal state of a run.
type Status string

const (
	StatusPassed                 Status = "passed"
	StatusDegrading              Status = "early_stopped_degradation"
	StatusMaxIterations          Status = "max_iterations_reached"
	StatusFailedSchemaValidation Status = "failed_schema_validation"
	StatusFailedLLMError         Status = "failed_llm_error"
	StatusFailedInvalidJSON      Status = "failed_invalid_json"
	StatusFailedUnexpected       Status = "failed_unexpected_error"
	StatusBlocked                Status = "blocked"
)

// Failed reports whether s is one of the failure states.
func (s Status) Failed() bool {
	switch s {
	case StatusFailedSchemaValidation, StatusFailedLLMError, StatusFailedInvalidJSON, StatusFailedUnexpected:
		return true
	}
	return false
}

// ErrorKind classifies why a run ended abnormally.
type ErrorKind int

const (
	KindBlocked ErrorKind = iota + 1
	KindProviderTransient
	KindProviderFatal
	KindSchemaCatastrophic
	KindParseFailure
	KindUnexpected
)

func (k ErrorKind) String() string {
	switch k {
	case KindBlocked:
		return "blocked"
	case KindProviderTransient:
		return "provider_transient"
	case KindProviderFatal:
		return "provider_fatal"
	case KindSchemaCatastrophic:
		return "schema_catastrophic"
	case KindParseFailure:
		return "parse_failure"
	case KindUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// Status maps the error kind to a terminal status.
func (k ErrorKind) Status() Status {
	switch k {
	case KindBlocked:
		return StatusBlocked
	case KindProviderTransient, KindProviderFatal:
		return StatusFailedLLMError
	case KindSchemaCatastrophic:
		return StatusFailedSchemaValidation
	case KindParseFailure:
		return StatusFailedInvalidJSON
	default:
		return StatusFailedUnexpected
	}
}

// Error is the reason a run ended in a blocked or failed state.
type Error struct {
	Kind      ErrorKind
	Step      string
	Iteration int
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at %s (iteration %d): %v", e.Kind, e.Step, e.Iteration, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is the outcome of a run.
type Result struct {
	Status Status
	Reason string

	// Err is set for blocked and failed runs.
	Err *Error

	// Best is the selected iteration, or nil when none was scored.
	Best       *types.Iteration
	BestReason string

	Iterations        []types.Iteration
	IterationCount    int
	QualityTrajectory []float64

	// Corrections counts successful correction calls.
	Corrections int
}
