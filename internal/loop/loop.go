// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package loop drives an artifact through generation, validation and
// correction until it is good enough, stops improving, or the budget runs
// out. A run never panics or returns an error past Run: every outcome,
// including failures, is a Result that keeps the best iteration scored so
// far.
package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/trial-engine/internal/provider"
	"github.com/pdiddy/trial-engine/internal/quality"
	"github.com/pdiddy/trial-engine/internal/repair"
	"github.com/pdiddy/trial-engine/internal/retry"
	"github.com/pdiddy/trial-engine/pkg/types"
)

// DefaultSchemaFloor is the schema-compliance score below which an
// artifact is considered too malformed to correct.
const DefaultSchemaFloor = 0.50

// Step names used in progress events and errors.
const (
	StepLoop     = "loop"
	StepGate     = "gate"
	StepGenerate = "generate"
	StepValidate = "validate"
	StepCorrect  = "correct"
	StepRepair   = "repair"
)

// Orchestrator runs validation–correction loops. It holds no per-run state
// and may be shared by concurrent runs if its collaborators allow it.
type Orchestrator struct {
	generator Generator
	validator Validator
	corrector Corrector

	sink        Sink
	progress    Progress
	logger      *zap.Logger
	retry       retry.Policy
	repair      repair.Options
	schemaFloor float64
	now         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSink persists iterations and the selected best.
func WithSink(s Sink) Option { return func(o *Orchestrator) { o.sink = s } }

// WithProgress reports loop events.
func WithProgress(p Progress) Option { return func(o *Orchestrator) { o.progress = p } }

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithRetryPolicy replaces the transient-error retry policy.
func WithRetryPolicy(p retry.Policy) Option { return func(o *Orchestrator) { o.retry = p } }

// WithRepairOptions replaces the identifier heuristic used by repair.
func WithRepairOptions(r repair.Options) Option { return func(o *Orchestrator) { o.repair = r } }

// WithSchemaFloor sets the catastrophic schema-compliance floor.
func WithSchemaFloor(f float64) Option { return func(o *Orchestrator) { o.schemaFloor = f } }

// WithClock sets the time source for iteration timestamps.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// New creates an Orchestrator over the three collaborators.
func New(g Generator, v Validator, c Corrector, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		generator:   g,
		validator:   v,
		corrector:   c,
		logger:      zap.NewNop(),
		retry:       retry.DefaultPolicy(),
		repair:      repair.DefaultOptions(),
		schemaFloor: DefaultSchemaFloor,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// run is the state owned by a single invocation of Run.
type run struct {
	req        Request
	thresholds types.QualityThresholds
	weights    types.Weights
	window     int
	log        *zap.Logger

	iterations  []types.Iteration
	corrections int
}

// Run executes one loop. It always returns a Result.
func (o *Orchestrator) Run(ctx context.Context, req Request) (res Result) {
	r := &run{req: req, log: o.logger.With(zap.String("kind", string(req.Input.Kind)), zap.String("name", req.Input.Name))}

	defer func() {
		if p := recover(); p != nil {
			err := &Error{Kind: KindUnexpected, Step: StepLoop, Iteration: len(r.iterations), Err: fmt.Errorf("panic: %v", p)}
			res = o.finish(ctx, r, err.Kind.Status(), err.Error(), err, nil)
		}
	}()

	if err := o.prepare(r); err != nil {
		e := &Error{Kind: KindUnexpected, Step: StepLoop, Err: err}
		return o.finish(ctx, r, e.Kind.Status(), err.Error(), e, nil)
	}

	o.emit(StepLoop, "started", map[string]any{
		"kind":           string(req.Input.Kind),
		"name":           req.Input.Name,
		"max_iterations": req.MaxIterations,
	})

	if reason, blocked := checkGate(req.Input.Kind, req.Gate); blocked {
		e := &Error{Kind: KindBlocked, Step: StepGate, Err: errors.New(reason)}
		return o.finish(ctx, r, StatusBlocked, reason, e, nil)
	}

	o.emit(StepGenerate, "started", nil)
	artifact, err := o.generator.Generate(ctx, req.Input)
	if err != nil {
		return o.fail(ctx, r, StepGenerate, 0, err)
	}
	if artifact == nil {
		return o.fail(ctx, r, StepGenerate, 0, provider.Parse(StepGenerate, errors.New("generator returned no artifact")))
	}
	o.emit(StepGenerate, "completed", nil)

	for i := 0; ; i++ {
		o.emit(StepValidate, "started", map[string]any{"iteration": i})
		current := artifact
		vr, err := retry.Do(ctx, o.retry, r.log.With(zap.String("step", StepValidate), zap.Int("iteration", i)),
			func(ctx context.Context) (types.ValidationResult, error) {
				return o.validator.Validate(ctx, types.CloneArtifact(current), req.Input)
			})
		if err != nil {
			return o.fail(ctx, r, StepValidate, i, err)
		}

		it := types.Iteration{
			Index:      i,
			Artifact:   types.CloneArtifact(artifact),
			Validation: types.CloneValidation(vr),
			Metrics:    quality.ExtractMetrics(vr, r.weights),
			Timestamp:  o.now(),
		}
		r.iterations = append(r.iterations, it)
		o.saveIteration(ctx, r, it)

		m := it.Metrics
		r.log.Info("iteration validated",
			zap.Int("iteration", i),
			zap.Float64("overall_quality", m.OverallQuality),
			zap.Float64("completeness", m.Completeness),
			zap.Float64("accuracy", m.Accuracy),
			zap.Float64("schema_compliance", m.SchemaCompliance),
			zap.Int("critical_issues", m.CriticalIssues),
		)
		o.emit(StepValidate, "completed", map[string]any{
			"iteration":       i,
			"overall_quality": m.OverallQuality,
			"critical_issues": m.CriticalIssues,
		})

		// A missing schema_compliance_score reads as 0 and trips the floor.
		if m.SchemaCompliance < o.schemaFloor {
			reason := fmt.Sprintf("schema compliance %.2f below floor %.2f", m.SchemaCompliance, o.schemaFloor)
			e := &Error{Kind: KindSchemaCatastrophic, Step: StepValidate, Iteration: i, Err: errors.New(reason)}
			return o.finish(ctx, r, StatusFailedSchemaValidation, reason, e, nil)
		}

		failures := quality.Failures(m, r.thresholds)
		if len(failures) == 0 {
			return o.finish(ctx, r, StatusPassed, "all quality thresholds met", nil, &it)
		}
		r.log.Debug("quality insufficient", zap.Int("iteration", i), zap.Strings("failures", failures))

		if quality.IsDegrading(r.iterations, r.window) {
			reason := fmt.Sprintf("quality declined over the last %d iterations", r.window)
			return o.finish(ctx, r, StatusDegrading, reason, nil, nil)
		}

		if i >= r.req.MaxIterations {
			reason := fmt.Sprintf("reached max iterations (%d)", r.req.MaxIterations)
			return o.finish(ctx, r, StatusMaxIterations, reason, nil, nil)
		}

		o.emit(StepCorrect, "started", map[string]any{"iteration": i, "failures": failures})
		corrected, err := retry.Do(ctx, o.retry, r.log.With(zap.String("step", StepCorrect), zap.Int("iteration", i)),
			func(ctx context.Context) (types.Artifact, error) {
				return o.corrector.Correct(ctx, types.CloneArtifact(current), vr, req.Input)
			})
		if err != nil {
			return o.fail(ctx, r, StepCorrect, i, err)
		}
		if corrected == nil {
			return o.fail(ctx, r, StepCorrect, i, provider.Parse(StepCorrect, errors.New("corrector returned no artifact")))
		}
		r.corrections++

		repaired, ok := o.repair.Repair(corrected, req.Input.Schema, artifact).(map[string]any)
		if !ok {
			return o.fail(ctx, r, StepRepair, i, provider.Parse(StepRepair, errors.New("repaired artifact is not an object")))
		}
		o.emit(StepCorrect, "completed", map[string]any{"iteration": i})
		artifact = repaired
	}
}

// prepare resolves the kind defaults for thresholds, weights and window.
func (o *Orchestrator) prepare(r *run) error {
	kind := r.req.Input.Kind
	if r.req.Thresholds != nil {
		r.thresholds = *r.req.Thresholds
	} else {
		th, err := quality.ThresholdsFor(kind)
		if err != nil {
			return err
		}
		r.thresholds = th
	}
	if r.req.Weights != nil {
		r.weights = *r.req.Weights
	} else {
		w, err := quality.WeightsFor(kind)
		if err != nil {
			return err
		}
		r.weights = w
	}
	r.window = r.req.Window
	if r.window <= 0 {
		r.window = quality.DefaultWindow
	}
	if r.req.MaxIterations < 0 {
		r.req.MaxIterations = 0
	}
	if o.generator == nil || o.validator == nil || o.corrector == nil {
		return errors.New("generator, validator and corrector are required")
	}
	return nil
}

// checkGate returns a reason when the run must not start.
func checkGate(kind types.Kind, g Gate) (string, bool) {
	for _, up := range g.Required {
		if !up.Present {
			return fmt.Sprintf("required upstream %q is missing", up.Name), true
		}
		if up.Failed {
			return fmt.Sprintf("required upstream %q failed", up.Name), true
		}
	}
	floor := g.Floor
	if floor == 0 {
		floor = DefaultGateFloor(kind)
	}
	if g.UpstreamQuality != nil && *g.UpstreamQuality < floor {
		return fmt.Sprintf("upstream quality %.2f below floor %.2f", *g.UpstreamQuality, floor), true
	}
	return "", false
}

// fail converts a collaborator error into a terminal result.
func (o *Orchestrator) fail(ctx context.Context, r *run, step string, iteration int, err error) Result {
	e := &Error{Kind: classify(err), Step: step, Iteration: iteration, Err: err}
	return o.finish(ctx, r, e.Kind.Status(), e.Error(), e, nil)
}

func classify(err error) ErrorKind {
	if k, ok := provider.KindOf(err); ok {
		switch k {
		case provider.KindTransient:
			return KindProviderTransient
		case provider.KindFatal:
			return KindProviderFatal
		case provider.KindParse:
			return KindParseFailure
		}
	}
	if errors.Is(err, context.Canceled) {
		return KindProviderTransient
	}
	return KindUnexpected
}

// finish selects the best iteration, persists it and builds the Result.
// chosen overrides selection (the passing iteration of a sufficient run).
func (o *Orchestrator) finish(ctx context.Context, r *run, status Status, reason string, e *Error, chosen *types.Iteration) Result {
	res := Result{
		Status:            status,
		Reason:            reason,
		Err:               e,
		Iterations:        r.iterations,
		IterationCount:    len(r.iterations),
		QualityTrajectory: quality.Trajectory(r.iterations),
		Corrections:       r.corrections,
	}

	switch {
	case chosen != nil:
		best := *chosen
		res.Best, res.BestReason = &best, "passed all thresholds"
	case len(r.iterations) > 0:
		best, why, err := quality.SelectBest(r.iterations)
		if err == nil {
			res.Best, res.BestReason = &best, why
		}
	}

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.String("reason", reason),
		zap.Int("iterations", res.IterationCount),
		zap.Int("corrections", res.Corrections),
		zap.Float64s("quality_trajectory", res.QualityTrajectory),
	}
	if res.Best != nil {
		fields = append(fields, zap.Int("best_iteration", res.Best.Index))
	}
	if e != nil {
		r.log.Warn("run ended", append(fields, zap.Error(e))...)
	} else {
		r.log.Info("run ended", fields...)
	}

	// The outcome is recorded even after the run's context is cancelled.
	persist := context.WithoutCancel(ctx)
	if res.Best != nil && o.sink != nil {
		o.guard(r, "save best", func() error { return o.sink.SaveBest(persist, *res.Best) })
	}
	if f, ok := o.sink.(Finisher); ok {
		o.guard(r, "finish", func() error { return f.Finish(persist, res) })
	}

	payload := map[string]any{
		"status":             string(status),
		"reason":             reason,
		"iteration_count":    res.IterationCount,
		"quality_trajectory": res.QualityTrajectory,
	}
	if res.Best != nil {
		payload["best_iteration"] = res.Best.Index
		payload["best_quality"] = res.Best.Metrics.OverallQuality
	}
	eventStatus := "completed"
	switch {
	case status == StatusBlocked:
		eventStatus = "blocked"
	case status.Failed():
		eventStatus = "failed"
	}
	o.emit(StepLoop, eventStatus, payload)
	return res
}

func (o *Orchestrator) saveIteration(ctx context.Context, r *run, it types.Iteration) {
	if o.sink == nil {
		return
	}
	o.guard(r, "save iteration", func() error { return o.sink.SaveIteration(ctx, it) })
}

// guard runs a sink call, logging its error or panic.
func (o *Orchestrator) guard(r *run, what string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("sink panicked", zap.String("call", what), zap.Any("panic", p))
		}
	}()
	if err := fn(); err != nil {
		r.log.Warn("sink call failed", zap.String("call", what), zap.Error(err))
	}
}

// emit forwards an event to the progress sink, swallowing its panics.
func (o *Orchestrator) emit(step, status string, payload map[string]any) {
	if o.progress == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("progress sink panicked", zap.String("step", step), zap.Any("panic", p))
		}
	}()
	o.progress.Event(step, status, payload)
}
