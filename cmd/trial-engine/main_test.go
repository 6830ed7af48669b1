// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/trial-engine/internal/loop"
	"github.com/pdiddy/trial-engine/internal/quality"
	"github.com/pdiddy/trial-engine/internal/repair"
	"github.com/pdiddy/trial-engine/internal/store"
	"github.com/pdiddy/trial-engine/pkg/types"
)

func TestWriterProgress(t *testing.T) {
	var buf bytes.Buffer
	p := newWriterProgress(&buf)

	p.Event(loop.StepLoop, "started", map[string]any{"kind": "extraction", "name": "nct0001"})
	p.Event(loop.StepGenerate, "started", nil)
	p.Event(loop.StepValidate, "completed", map[string]any{"iteration": 0, "overall_quality": 0.7126, "critical_issues": 2})
	p.Event(loop.StepCorrect, "started", map[string]any{"iteration": 0, "failures": []string{"accuracy 0.70 < 0.95"}})
	p.Event(loop.StepLoop, "completed", map[string]any{"status": "passed", "best_iteration": 1, "best_quality": 0.96})

	assert.Equal(t, strings.Join([]string{
		"extracting nct0001",
		"  nct0001 iteration 0: quality 0.713, critical issues 2",
		"  nct0001 correcting iteration 0 (accuracy 0.70 < 0.95)",
		"extracted nct0001: passed, best iteration 1 quality 0.960",
		"",
	}, "\n"), buf.String())
}

func TestWriterProgress_Terminal(t *testing.T) {
	tests := []struct {
		status  string
		payload map[string]any
		want    string
	}{
		{status: "blocked", payload: map[string]any{"status": "blocked", "reason": "upstream quality 0.55 below floor 0.70"}, want: "BLOCKED nct0001-report: upstream quality 0.55 below floor 0.70\n"},
		{status: "failed", payload: map[string]any{"status": "failed_llm_error", "reason": "rate limited"}, want: "FAILED nct0001-report: failed_llm_error (rate limited)\n"},
		{status: "completed", payload: map[string]any{"status": "max_iterations_reached"}, want: "reported nct0001-report: max_iterations_reached\n"},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			var buf bytes.Buffer
			p := newWriterProgress(&buf)
			p.Event(loop.StepLoop, "started", map[string]any{"kind": "report", "name": "nct0001-report"})
			buf.Reset()

			p.Event(loop.StepLoop, tt.status, tt.payload)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestFanout(t *testing.T) {
	var got []string
	rec := loop.ProgressFunc(func(step, status string, _ map[string]any) { got = append(got, step+":"+status) })
	fanout{rec, rec}.Event(loop.StepGenerate, "started", nil)
	assert.Equal(t, []string{"generate:started", "generate:started"}, got)
}

func TestExtractionName(t *testing.T) {
	assert.Equal(t, "nct0001", extractionName("out/nct0001-best.json"))
	assert.Equal(t, "custom", extractionName("custom.json"))
}

func TestReportGate(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	files, err := store.NewFileSink(dir, "nct0001", types.KindExtraction)
	require.NoError(t, err)
	best := types.Iteration{
		Index:    1,
		Artifact: types.Artifact{"study": map[string]any{}},
		Metrics:  types.Metrics{OverallQuality: 0.82},
	}
	require.NoError(t, files.SaveBest(ctx, best))

	read, err := store.ReadBest(files.BestPath())
	require.NoError(t, err)

	gate, err := reportGate(files.BestPath(), read)
	require.NoError(t, err)
	require.NotNil(t, gate.UpstreamQuality)
	assert.InDelta(t, 0.82, *gate.UpstreamQuality, 1e-9)
	assert.Equal(t, []loop.Upstream{{Name: "extraction", Present: true}}, gate.Required)

	require.NoError(t, files.Finish(ctx, loop.Result{Status: loop.StatusFailedInvalidJSON}))
	gate, err = reportGate(files.BestPath(), read)
	require.NoError(t, err)
	assert.True(t, gate.Required[0].Failed)

	require.NoError(t, os.WriteFile(files.SummaryPath(), []byte(":\n\t- not yaml"), 0o644))
	_, err = reportGate(files.BestPath(), read)
	assert.ErrorContains(t, err, "reading extraction summary")
}

func TestLoadConfig_Defaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "claude", cfg.AI.Provider)
	assert.Equal(t, 8192, cfg.AI.MaxTokens)
	assert.Equal(t, 5*time.Minute, cfg.AI.Timeout)
	assert.Equal(t, 3, cfg.Loop.MaxIterations)
	assert.Equal(t, 2, cfg.Loop.DegradationWindow)
	assert.InDelta(t, 0.5, cfg.Loop.SchemaFloor, 1e-9)
	assert.Equal(t, 3, cfg.Loop.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Loop.Retry.InitialDelay)
	assert.Equal(t, filepath.Join("output", "history.db"), cfg.Store.DBPath)
	th, err := thresholds(cfg, types.KindReport)
	require.NoError(t, err)
	assert.Equal(t, quality.ReportThresholds, th)
	assert.Equal(t, repair.DefaultOptions(), repairOptions(cfg.Repair))
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trial-engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ai:
  provider: openai
  model: gpt-4o-mini
  timeout: 90s
  requests_per_minute: 30
loop:
  max_iterations: 5
  retry:
    max_retries: 1
    initial_delay: 250ms
  thresholds:
    completeness_score: 0.8
    accuracy_score: 0.9
    critical_issues: 1
store:
  output_dir: runs
  db_path: /tmp/h.db
schemas:
  extraction: schemas/extraction.json
repair:
  preferred_id_fields: [result_id]
`), 0o644))

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := loadConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.AI.Model)
	assert.Equal(t, 90*time.Second, cfg.AI.Timeout)
	assert.Equal(t, 30, cfg.AI.RequestsPerMinute)
	assert.Equal(t, 5, cfg.Loop.MaxIterations)
	assert.Equal(t, 1, cfg.Loop.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Loop.Retry.InitialDelay)
	th, err := thresholds(cfg, types.KindExtraction)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, th.Completeness, 1e-9)
	assert.InDelta(t, 0.9, th.Accuracy, 1e-9)
	assert.Equal(t, 1, th.MaxCriticalIssues)
	assert.InDelta(t, quality.ExtractionThresholds.SchemaCompliance, th.SchemaCompliance, 1e-9)
	assert.Equal(t, "/tmp/h.db", cfg.Store.DBPath)
	assert.Equal(t, "schemas/extraction.json", schemaPath(cfg, types.KindExtraction, ""))
	assert.Equal(t, "override.json", schemaPath(cfg, types.KindExtraction, "override.json"))
	assert.Equal(t, "", schemaPath(cfg, types.KindReport, ""))

	opts := repairOptions(cfg.Repair)
	assert.Equal(t, []string{"result_id"}, opts.PreferredIDFields)
	assert.Equal(t, repair.DefaultOptions().ExcludedIDFields, opts.ExcludedIDFields)
}

func TestLoadConfig_PartialThresholdsKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trial-engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("loop:\n  thresholds:\n    completeness_score: 0.80\n"), 0o644))

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	cfg, err := loadConfig(v)
	require.NoError(t, err)

	th, err := thresholds(cfg, types.KindExtraction)
	require.NoError(t, err)
	want := quality.ExtractionThresholds
	want.Completeness = 0.80
	assert.Equal(t, want, th)

	weak := types.Metrics{Completeness: 0.81, Accuracy: 0.10, SchemaCompliance: 0.10}
	assert.False(t, quality.Sufficient(weak, th))

	_, err = thresholds(cfg, "poster")
	assert.ErrorContains(t, err, "unknown artifact kind")
}

func TestLoadConfig_NegativeIterations(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("loop.max_iterations", -1)
	_, err := loadConfig(v)
	assert.ErrorContains(t, err, "must not be negative")
}

func TestRetryPolicy(t *testing.T) {
	p := retryPolicy(types.RetryConfig{MaxRetries: 0, InitialDelay: 10 * time.Millisecond})
	assert.Equal(t, 0, p.MaxRetries)
	assert.Equal(t, 10*time.Millisecond, p.InitialDelay)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
	assert.NotNil(t, p.Retryable)
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger(false, "")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(-1))

	l, err = newLogger(true, "error")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	_, err = newLogger(false, "loud")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestFormatRuns(t *testing.T) {
	var buf bytes.Buffer
	formatRuns(&buf, nil)
	assert.Equal(t, "No runs recorded.\n", buf.String())

	buf.Reset()
	q := 0.912
	formatRuns(&buf, []store.RunRecord{{ID: "r1", Kind: types.KindExtraction, Name: "nct0001", Status: "passed", IterationCount: 2, BestQuality: &q}})
	out := buf.String()
	assert.Contains(t, out, "nct0001")
	assert.Contains(t, out, "0.912")
	assert.Contains(t, out, "1 runs")
}
