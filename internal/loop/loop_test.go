// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package loop

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/pdiddy/trial-engine/internal/provider"
	"github.com/pdiddy/trial-engine/internal/retry"
	"github.com/pdiddy/trial-engine/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- fakes ---

type fakeGenerator struct {
	artifact types.Artifact
	err      error
	calls    int
}

func (g *fakeGenerator) Generate(_ context.Context, _ Input) (types.Artifact, error) {
	g.calls++
	return types.CloneArtifact(g.artifact), g.err
}

// step is one scripted collaborator reply.
type step[T any] struct {
	val T
	err error
}

// fakeValidator replays its script; the last step repeats once exhausted.
type fakeValidator struct {
	script []step[types.ValidationResult]
	seen   []types.Artifact
	calls  int
}

func (v *fakeValidator) Validate(_ context.Context, a types.Artifact, _ Input) (types.ValidationResult, error) {
	v.calls++
	v.seen = append(v.seen, a)
	s := v.script[min(v.calls, len(v.script))-1]
	return s.val, s.err
}

type fakeCorrector struct {
	script         []step[types.Artifact]
	calls          int
	panic          bool
	mutate         bool
	mutateFindings bool
}

func (c *fakeCorrector) Correct(_ context.Context, a types.Artifact, vr types.ValidationResult, _ Input) (types.Artifact, error) {
	c.calls++
	if c.panic {
		panic("corrector exploded")
	}
	if c.mutate {
		a["mutated"] = true
	}
	if c.mutateFindings {
		*vr.Summary.OverallQualityScore = 0
		*vr.Summary.CriticalIssues = 9
		if len(vr.Issues) > 0 {
			vr.Issues[0].Message = "rewritten"
		}
	}
	if len(c.script) == 0 {
		return types.CloneArtifact(a), nil
	}
	s := c.script[min(c.calls, len(c.script))-1]
	return s.val, s.err
}

type recordingSink struct {
	mu        sync.Mutex
	saved     []int
	best      *types.Iteration
	finished  *Result
	failSaves bool

	finishCtxErr error
}

func (s *recordingSink) SaveIteration(_ context.Context, it types.Iteration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, it.Index)
	if s.failSaves {
		return errors.New("disk full")
	}
	return nil
}

func (s *recordingSink) SaveBest(_ context.Context, it types.Iteration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.best = &it
	if s.failSaves {
		return errors.New("disk full")
	}
	return nil
}

func (s *recordingSink) Finish(ctx context.Context, res Result) error {
	s.finished = &res
	s.finishCtxErr = ctx.Err()
	return nil
}

// --- helpers ---

func fastRetry() retry.Policy {
	p := retry.DefaultPolicy()
	p.InitialDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond
	return p
}

// scored returns an insufficient validation result with the given overall
// quality.
func scored(q float64) step[types.ValidationResult] {
	return step[types.ValidationResult]{val: types.ValidationResult{Summary: types.ValidationSummary{
		CompletenessScore:     types.Float(0.8),
		AccuracyScore:         types.Float(0.8),
		SchemaComplianceScore: types.Float(0.9),
		OverallQualityScore:   types.Float(q),
		CriticalIssues:        types.Int(0),
	}}}
}

func passing() step[types.ValidationResult] {
	return step[types.ValidationResult]{val: types.ValidationResult{Summary: types.ValidationSummary{
		CompletenessScore:     types.Float(1),
		AccuracyScore:         types.Float(1),
		SchemaComplianceScore: types.Float(1),
		CriticalIssues:        types.Int(0),
		OverallStatus:         "passed",
	}}}
}

func failing(err error) step[types.ValidationResult] {
	return step[types.ValidationResult]{err: err}
}

func newTestOrchestrator(g Generator, v Validator, c Corrector, opts ...Option) *Orchestrator {
	base := []Option{WithRetryPolicy(fastRetry()), WithLogger(zap.NewNop())}
	return New(g, v, c, append(base, opts...)...)
}

func extractionRequest(maxIterations int) Request {
	return Request{
		Input:         Input{Kind: types.KindExtraction, Name: "nct0001"},
		MaxIterations: maxIterations,
	}
}

var transientErr = provider.Transient("call", errors.New("429 too many requests"))

// --- scenarios ---

func TestRun_PassesAfterOneCorrection(t *testing.T) {
	gen := &fakeGenerator{artifact: types.Artifact{"title": "draft"}}
	val := &fakeValidator{script: []step[types.ValidationResult]{scored(0.7), passing()}}
	cor := &fakeCorrector{}

	res := newTestOrchestrator(gen, val, cor).Run(context.Background(), extractionRequest(2))

	assert.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, 2, res.IterationCount)
	assert.Equal(t, 1, cor.calls)
	assert.Equal(t, 1, res.Corrections)
	assert.Equal(t, 1, gen.calls)
	require.NotNil(t, res.Best)
	assert.Equal(t, 1, res.Best.Index)
	assert.Nil(t, res.Err)
	assert.Len(t, res.QualityTrajectory, 2)
}

func TestRun_ValidationRetryExhaustionOnFirstIteration(t *testing.T) {
	gen := &fakeGenerator{artifact: types.Artifact{"title": "draft"}}
	val := &fakeValidator{script: []step[types.ValidationResult]{failing(transientErr)}}
	cor := &fakeCorrector{}

	res := newTestOrchestrator(gen, val, cor).Run(context.Background(), extractionRequest(3))

	assert.Equal(t, StatusFailedLLMError, res.Status)
	// 1 initial + 3 retries = 4 total calls.
	assert.Equal(t, 4, val.calls)
	assert.Nil(t, res.Best)
	assert.Zero(t, res.IterationCount)
	require.NotNil(t, res.Err)
	assert.Equal(t, KindProviderTransient, res.Err.Kind)
	assert.Equal(t, StepValidate, res.Err.Step)
	assert.Zero(t, cor.calls)
}

func TestRun_TransientRecoveredWithinRetries(t *testing.T) {
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{failing(transientErr), failing(transientErr), passing()}}

	res := newTestOrchestrator(gen, val, &fakeCorrector{}).Run(context.Background(), extractionRequest(3))

	assert.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, 3, val.calls)
	assert.Equal(t, 1, res.IterationCount)
}

func TestRun_FatalErrorIsNotRetried(t *testing.T) {
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{
		scored(0.7),
		failing(provider.Fatal("validate", errors.New("401 invalid api key"))),
	}}

	res := newTestOrchestrator(gen, val, &fakeCorrector{}).Run(context.Background(), extractionRequest(3))

	assert.Equal(t, StatusFailedLLMError, res.Status)
	assert.Equal(t, 2, val.calls)
	require.NotNil(t, res.Err)
	assert.Equal(t, KindProviderFatal, res.Err.Kind)
	require.NotNil(t, res.Best, "partial progress is kept")
	assert.Equal(t, 0, res.Best.Index)
}

func TestRun_GenerationFailure(t *testing.T) {
	gen := &fakeGenerator{err: provider.Transient("generate", errors.New("timeout"))}
	val := &fakeValidator{script: []step[types.ValidationResult]{passing()}}

	res := newTestOrchestrator(gen, val, &fakeCorrector{}).Run(context.Background(), extractionRequest(3))

	assert.Equal(t, StatusFailedLLMError, res.Status)
	assert.Equal(t, 1, gen.calls, "generation is not retried by the loop")
	assert.Zero(t, val.calls)
	assert.Nil(t, res.Best)
}

func TestRun_GenerationParseFailure(t *testing.T) {
	gen := &fakeGenerator{err: provider.Parse("generate", errors.New("unexpected token"))}

	res := newTestOrchestrator(gen, &fakeValidator{}, &fakeCorrector{}).Run(context.Background(), extractionRequest(3))

	assert.Equal(t, StatusFailedInvalidJSON, res.Status)
	assert.Nil(t, res.Best)
}

func TestRun_SchemaCatastrophicSkipsCorrection(t *testing.T) {
	bad := types.ValidationResult{Summary: types.ValidationSummary{
		CompletenessScore:     types.Float(0.9),
		AccuracyScore:         types.Float(0.9),
		SchemaComplianceScore: types.Float(0.3),
	}}
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{{val: bad}}}
	cor := &fakeCorrector{}

	res := newTestOrchestrator(gen, val, cor).Run(context.Background(), extractionRequest(3))

	assert.Equal(t, StatusFailedSchemaValidation, res.Status)
	assert.Zero(t, cor.calls)
	require.NotNil(t, res.Err)
	assert.Equal(t, KindSchemaCatastrophic, res.Err.Kind)
	require.NotNil(t, res.Best)
	assert.Equal(t, 1, res.IterationCount)
}

func TestRun_MissingSchemaScoreTripsFloor(t *testing.T) {
	noSchema := types.ValidationResult{Summary: types.ValidationSummary{
		CompletenessScore: types.Float(0.2),
		AccuracyScore:     types.Float(0.2),
	}}
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{{val: noSchema}}}
	cor := &fakeCorrector{}

	res := newTestOrchestrator(gen, val, cor).Run(context.Background(), extractionRequest(3))

	assert.Equal(t, StatusFailedSchemaValidation, res.Status)
	assert.Zero(t, cor.calls)
	assert.Equal(t, 1, val.calls)
	require.NotNil(t, res.Err)
	assert.Equal(t, KindSchemaCatastrophic, res.Err.Kind)
}

func TestRun_ZeroSchemaFloorDisablesCheck(t *testing.T) {
	noSchema := types.ValidationResult{Summary: types.ValidationSummary{
		CompletenessScore: types.Float(0.5),
		AccuracyScore:     types.Float(0.5),
	}}
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{{val: noSchema}}}

	res := newTestOrchestrator(gen, val, &fakeCorrector{}, WithSchemaFloor(0)).Run(context.Background(), extractionRequest(0))

	assert.Equal(t, StatusMaxIterations, res.Status)
}

func TestRun_StopsOnDegradation(t *testing.T) {
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{
		scored(0.85), scored(0.88), scored(0.86), scored(0.84), scored(0.99),
	}}
	cor := &fakeCorrector{}

	res := newTestOrchestrator(gen, val, cor).Run(context.Background(), extractionRequest(10))

	assert.Equal(t, StatusDegrading, res.Status)
	assert.Equal(t, 4, res.IterationCount)
	assert.Equal(t, 3, cor.calls)
	assert.Equal(t, []float64{0.85, 0.88, 0.86, 0.84}, res.QualityTrajectory)
	require.NotNil(t, res.Best)
	assert.Equal(t, 1, res.Best.Index)
	assert.Nil(t, res.Err)
}

func TestRun_MaxIterations(t *testing.T) {
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{scored(0.80), scored(0.82), scored(0.81)}}
	cor := &fakeCorrector{}

	res := newTestOrchestrator(gen, val, cor).Run(context.Background(), extractionRequest(2))

	assert.Equal(t, StatusMaxIterations, res.Status)
	assert.Equal(t, 3, res.IterationCount)
	assert.Equal(t, 2, cor.calls)
	require.NotNil(t, res.Best)
	assert.Equal(t, 1, res.Best.Index)
}

func TestRun_ZeroMaxIterationsValidatesOnce(t *testing.T) {
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{scored(0.5)}}
	cor := &fakeCorrector{}

	res := newTestOrchestrator(gen, val, cor).Run(context.Background(), extractionRequest(0))

	assert.Equal(t, StatusMaxIterations, res.Status)
	assert.Equal(t, 1, val.calls)
	assert.Zero(t, cor.calls)
}

func TestRun_CorrectorParseFailureKeepsBest(t *testing.T) {
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{scored(0.7)}}
	cor := &fakeCorrector{script: []step[types.Artifact]{{err: provider.Parse("correct", errors.New("invalid character '}'"))}}}

	res := newTestOrchestrator(gen, val, cor).Run(context.Background(), extractionRequest(3))

	assert.Equal(t, StatusFailedInvalidJSON, res.Status)
	assert.Equal(t, 1, cor.calls, "parse failures are not retried")
	require.NotNil(t, res.Best)
	assert.Equal(t, 0, res.Best.Index)
}

func TestRun_CorrectorRetryExhaustionKeepsBest(t *testing.T) {
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{scored(0.7)}}
	cor := &fakeCorrector{script: []step[types.Artifact]{{err: transientErr}}}

	res := newTestOrchestrator(gen, val, cor).Run(context.Background(), extractionRequest(3))

	assert.Equal(t, StatusFailedLLMError, res.Status)
	assert.Equal(t, 4, cor.calls)
	require.NotNil(t, res.Best)
	assert.Equal(t, 1, res.IterationCount)
}

func TestRun_NilCorrectionIsParseFailure(t *testing.T) {
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{scored(0.7)}}
	cor := &fakeCorrector{script: []step[types.Artifact]{{val: nil}}}

	res := newTestOrchestrator(gen, val, cor).Run(context.Background(), extractionRequest(3))

	assert.Equal(t, StatusFailedInvalidJSON, res.Status)
	assert.NotNil(t, res.Best)
}

func TestRun_UnexpectedErrorIsContained(t *testing.T) {
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{scored(0.7), failing(errors.New("nil map write"))}}

	res := newTestOrchestrator(gen, val, &fakeCorrector{}).Run(context.Background(), extractionRequest(3))

	assert.Equal(t, StatusFailedUnexpected, res.Status)
	assert.Equal(t, 2, val.calls, "unexpected errors are not retried")
	require.NotNil(t, res.Err)
	assert.Equal(t, KindUnexpected, res.Err.Kind)
	assert.Equal(t, 1, res.IterationCount)
	assert.NotNil(t, res.Best)
}

func TestRun_PanicIsContained(t *testing.T) {
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{scored(0.7)}}
	cor := &fakeCorrector{panic: true}

	var res Result
	assert.NotPanics(t, func() {
		res = newTestOrchestrator(gen, val, cor).Run(context.Background(), extractionRequest(3))
	})

	assert.Equal(t, StatusFailedUnexpected, res.Status)
	assert.Contains(t, res.Reason, "corrector exploded")
	require.NotNil(t, res.Best)
	assert.Equal(t, 1, res.IterationCount)
}

func TestRun_ContextCancelledDuringBackoff(t *testing.T) {
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{scored(0.7), failing(transientErr)}}

	p := fastRetry()
	p.InitialDelay = time.Second
	p.MaxDelay = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := newTestOrchestrator(gen, val, &fakeCorrector{}, WithRetryPolicy(p)).Run(ctx, extractionRequest(3))

	assert.Equal(t, StatusFailedLLMError, res.Status)
	assert.NotNil(t, res.Best)
}

func TestRun_OutcomePersistedAfterCancel(t *testing.T) {
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{scored(0.7), failing(transientErr)}}
	sink := &recordingSink{}

	p := fastRetry()
	p.InitialDelay = time.Second
	p.MaxDelay = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := newTestOrchestrator(gen, val, &fakeCorrector{}, WithRetryPolicy(p), WithSink(sink)).Run(ctx, extractionRequest(3))

	require.Error(t, ctx.Err())
	assert.Equal(t, StatusFailedLLMError, res.Status)
	require.NotNil(t, sink.finished)
	assert.NoError(t, sink.finishCtxErr)
	require.NotNil(t, sink.best)
}

func TestRun_UnknownKindFailsWithoutCalls(t *testing.T) {
	gen := &fakeGenerator{artifact: types.Artifact{}}

	res := newTestOrchestrator(gen, &fakeValidator{}, &fakeCorrector{}).Run(context.Background(), Request{Input: Input{Kind: "poster"}})

	assert.Equal(t, StatusFailedUnexpected, res.Status)
	assert.Zero(t, gen.calls)
}

// --- gating ---

func TestRun_Gate(t *testing.T) {
	low, high := 0.65, 0.70

	tests := []struct {
		name        string
		kind        types.Kind
		gate        Gate
		wantBlocked bool
	}{
		{"report below default floor", types.KindReport, Gate{UpstreamQuality: &low}, true},
		{"report at default floor", types.KindReport, Gate{UpstreamQuality: &high}, false},
		{"custom floor", types.KindExtraction, Gate{UpstreamQuality: &high, Floor: 0.9}, true},
		{"missing upstream", types.KindReport, Gate{Required: []Upstream{{Name: "extraction"}}}, true},
		{"failed upstream", types.KindReport, Gate{Required: []Upstream{{Name: "extraction", Present: true, Failed: true}}}, true},
		{"no preconditions", types.KindExtraction, Gate{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{artifact: types.Artifact{}}
			val := &fakeValidator{script: []step[types.ValidationResult]{passing()}}
			req := Request{Input: Input{Kind: tt.kind}, Gate: tt.gate, MaxIterations: 1}
			if tt.kind == types.KindReport {
				th := types.QualityThresholds{}
				req.Thresholds = &th
			}

			res := newTestOrchestrator(gen, val, &fakeCorrector{}).Run(context.Background(), req)

			if tt.wantBlocked {
				assert.Equal(t, StatusBlocked, res.Status)
				assert.Zero(t, gen.calls)
				assert.Zero(t, res.IterationCount)
				require.NotNil(t, res.Err)
				assert.Equal(t, KindBlocked, res.Err.Kind)
			} else {
				assert.Equal(t, StatusPassed, res.Status)
			}
		})
	}
}

// --- repair and immutability ---

func TestRun_RepairsCorrectionBeforeRevalidation(t *testing.T) {
	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"type":"object","additionalProperties":false,
		"properties":{"outcomes":{"type":"array","items":{"$ref":"#/$defs/Outcome"}}},
		"$defs":{"Outcome":{"type":"object","properties":{"outcome_id":{"type":"string"},"name":{"type":"string"}}}}
	}`), &schema))

	original := types.Artifact{"outcomes": []any{map[string]any{"outcome_id": "O1", "name": "Primary"}}}
	gen := &fakeGenerator{artifact: original}
	val := &fakeValidator{script: []step[types.ValidationResult]{scored(0.7), passing()}}
	cor := &fakeCorrector{script: []step[types.Artifact]{{val: types.Artifact{"outcomes": []any{"O1"}, "notes": "x"}}}}

	req := extractionRequest(2)
	req.Input.Schema = schema
	res := newTestOrchestrator(gen, val, cor).Run(context.Background(), req)

	require.Equal(t, StatusPassed, res.Status)
	require.Len(t, val.seen, 2)
	assert.Equal(t, original, val.seen[1], "validator must see the repaired artifact")
	assert.Equal(t, original, res.Best.Artifact)
}

func TestRun_IterationsAreNotAffectedByCollaborators(t *testing.T) {
	gen := &fakeGenerator{artifact: types.Artifact{"title": "draft"}}
	val := &fakeValidator{script: []step[types.ValidationResult]{scored(0.7), passing()}}
	cor := &fakeCorrector{mutate: true}

	res := newTestOrchestrator(gen, val, cor).Run(context.Background(), extractionRequest(2))

	require.Len(t, res.Iterations, 2)
	assert.Equal(t, types.Artifact{"title": "draft"}, res.Iterations[0].Artifact)
	assert.Equal(t, types.Artifact{"title": "draft", "mutated": true}, res.Iterations[1].Artifact)
}

func TestRun_RecordedValidationIsNotSharedWithCorrector(t *testing.T) {
	first := scored(0.7)
	first.val.Issues = []types.ValidationIssue{{Severity: "major", Message: "missing arm"}}
	first.val.SchemaErrors = []string{"/arms: minItems"}
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{first, passing()}}
	cor := &fakeCorrector{mutateFindings: true}

	res := newTestOrchestrator(gen, val, cor).Run(context.Background(), extractionRequest(2))

	require.Len(t, res.Iterations, 2)
	recorded := res.Iterations[0].Validation
	assert.InDelta(t, 0.7, *recorded.Summary.OverallQualityScore, 1e-9)
	assert.Equal(t, 0, *recorded.Summary.CriticalIssues)
	assert.Equal(t, "missing arm", recorded.Issues[0].Message)
	assert.Equal(t, []string{"/arms: minItems"}, recorded.SchemaErrors)
}

// --- sinks ---

func TestRun_SinkReceivesIterationsAndBest(t *testing.T) {
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{scored(0.80), scored(0.82), scored(0.81)}}
	sink := &recordingSink{}

	res := newTestOrchestrator(gen, val, &fakeCorrector{}, WithSink(sink)).Run(context.Background(), extractionRequest(2))

	assert.Equal(t, []int{0, 1, 2}, sink.saved)
	require.NotNil(t, sink.best)
	assert.Equal(t, res.Best.Index, sink.best.Index)
	require.NotNil(t, sink.finished)
	assert.Equal(t, StatusMaxIterations, sink.finished.Status)
}

func TestRun_SinkFailuresDoNotChangeOutcome(t *testing.T) {
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{passing()}}
	sink := &recordingSink{failSaves: true}

	res := newTestOrchestrator(gen, val, &fakeCorrector{}, WithSink(sink)).Run(context.Background(), extractionRequest(2))

	assert.Equal(t, StatusPassed, res.Status)
}

func TestRun_NoBestSavedWithoutIterations(t *testing.T) {
	gen := &fakeGenerator{err: provider.Fatal("generate", errors.New("401"))}
	sink := &recordingSink{}

	newTestOrchestrator(gen, &fakeValidator{}, &fakeCorrector{}, WithSink(sink)).Run(context.Background(), extractionRequest(2))

	assert.Nil(t, sink.best)
	require.NotNil(t, sink.finished)
}

func TestRun_ProgressEventsAndPanickingProgress(t *testing.T) {
	var events []string
	progress := ProgressFunc(func(step, status string, _ map[string]any) {
		events = append(events, step+":"+status)
		if step == StepCorrect {
			panic("observer bug")
		}
	})
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{scored(0.7), passing()}}

	res := newTestOrchestrator(gen, val, &fakeCorrector{}, WithProgress(progress)).Run(context.Background(), extractionRequest(2))

	assert.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, "loop:started", events[0])
	assert.Equal(t, "loop:completed", events[len(events)-1])
	assert.Contains(t, events, "correct:started")
}

func TestRun_TimestampsFromClock(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	gen := &fakeGenerator{artifact: types.Artifact{}}
	val := &fakeValidator{script: []step[types.ValidationResult]{passing()}}

	res := newTestOrchestrator(gen, val, &fakeCorrector{}, WithClock(func() time.Time { return fixed })).Run(context.Background(), extractionRequest(1))

	require.Len(t, res.Iterations, 1)
	assert.Equal(t, fixed, res.Iterations[0].Timestamp)
}

func TestErrorKindStatus(t *testing.T) {
	assert.Equal(t, StatusBlocked, KindBlocked.Status())
	assert.Equal(t, StatusFailedLLMError, KindProviderTransient.Status())
	assert.Equal(t, StatusFailedLLMError, KindProviderFatal.Status())
	assert.Equal(t, StatusFailedSchemaValidation, KindSchemaCatastrophic.Status())
	assert.Equal(t, StatusFailedInvalidJSON, KindParseFailure.Status())
	assert.Equal(t, StatusFailedUnexpected, KindUnexpected.Status())
	assert.True(t, StatusFailedInvalidJSON.Failed())
	assert.False(t, StatusDegrading.Failed())
}
