// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/trial-engine/internal/loop"
	"github.com/pdiddy/trial-engine/pkg/types"
)

// FileSink writes a run's iterations and outcome under Dir:
//
//	<name>-iteration-NN.json  every scored iteration
//	<name>-best.json          the selected iteration
//	<name>-summary.yaml       the terminal result
type FileSink struct {
	Dir   string
	Name  string
	Kind  types.Kind
	RunID string

	now func() time.Time
}

// NewFileSink creates the output directory and returns a sink writing into it.
func NewFileSink(dir, name string, kind types.Kind) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &FileSink{Dir: dir, Name: name, Kind: kind, now: time.Now}, nil
}

// IterationPath returns the file an iteration is written to.
func (f *FileSink) IterationPath(index int) string {
	return filepath.Join(f.Dir, fmt.Sprintf("%s-iteration-%02d.json", f.Name, index))
}

// BestPath returns the file the selected iteration is written to.
func (f *FileSink) BestPath() string {
	return filepath.Join(f.Dir, f.Name+"-best.json")
}

// SummaryPath returns the file the run summary is written to.
func (f *FileSink) SummaryPath() string {
	return filepath.Join(f.Dir, f.Name+"-summary.yaml")
}

// SaveIteration writes it as indented JSON.
func (f *FileSink) SaveIteration(_ context.Context, it types.Iteration) error {
	return writeJSON(f.IterationPath(it.Index), it)
}

// SaveBest writes the selected iteration as indented JSON.
func (f *FileSink) SaveBest(_ context.Context, it types.Iteration) error {
	return writeJSON(f.BestPath(), it)
}

// Summary is the YAML record of a finished run.
type Summary struct {
	RunID             string         `yaml:"run_id,omitempty"`
	Name              string         `yaml:"name"`
	Kind              types.Kind     `yaml:"kind"`
	Status            string         `yaml:"status"`
	Failed            bool           `yaml:"failed"`
	Reason            string         `yaml:"reason,omitempty"`
	Error             string         `yaml:"error,omitempty"`
	IterationCount    int            `yaml:"iteration_count"`
	Corrections       int            `yaml:"corrections"`
	BestIteration     *int           `yaml:"best_iteration,omitempty"`
	BestReason        string         `yaml:"best_reason,omitempty"`
	BestMetrics       *types.Metrics `yaml:"best_metrics,omitempty"`
	QualityTrajectory []float64      `yaml:"quality_trajectory"`
	FinishedAt        time.Time      `yaml:"finished_at"`
}

// Finish writes the run summary.
func (f *FileSink) Finish(_ context.Context, res loop.Result) error {
	now := f.now
	if now == nil {
		now = time.Now
	}
	s := Summary{
		RunID:             f.RunID,
		Name:              f.Name,
		Kind:              f.Kind,
		Status:            string(res.Status),
		Failed:            res.Status.Failed(),
		Reason:            res.Reason,
		IterationCount:    res.IterationCount,
		Corrections:       res.Corrections,
		BestReason:        res.BestReason,
		QualityTrajectory: res.QualityTrajectory,
		FinishedAt:        now().UTC(),
	}
	if res.Err != nil {
		s.Error = res.Err.Error()
	}
	if res.Best != nil {
		idx := res.Best.Index
		m := res.Best.Metrics
		s.BestIteration = &idx
		s.BestMetrics = &m
	}

	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	if err := os.WriteFile(f.SummaryPath(), data, 0o644); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	return nil
}

// ReadBest reads an iteration written by SaveBest or SaveIteration.
func ReadBest(path string) (types.Iteration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Iteration{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var it types.Iteration
	if err := json.Unmarshal(data, &it); err != nil {
		return types.Iteration{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	if it.Artifact == nil {
		return types.Iteration{}, fmt.Errorf("%s has no artifact", path)
	}
	return it, nil
}

// ReadSummary reads a summary written by Finish.
func ReadSummary(path string) (Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, fmt.Errorf("reading %s: %w", path, err)
	}
	var s Summary
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Summary{}, fmt.Errorf("decoding %s: %w", path, err)
	}
	return s, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
