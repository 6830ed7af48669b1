// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/trial-engine/internal/loop"
	"github.com/pdiddy/trial-engine/internal/source"
	"github.com/pdiddy/trial-engine/internal/store"
	"github.com/pdiddy/trial-engine/pkg/types"
)

var reportCmd = &cobra.Command{
	Use:   "report <name-best.json>",
	Short: "Generate a report from a validated extraction",
	Long: `Report reads the best iteration written by extract and generates a
report artifact from its extraction, running the same
validation-correction loop with the report thresholds.

The run is blocked when the extraction scored below --min-quality (0.70
by default) or when its summary records a failed run.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func runReport(cmd *cobra.Command, args []string) error {
	bestPath := args[0]
	best, err := store.ReadBest(bestPath)
	if err != nil {
		return err
	}
	name := extractionName(bestPath)

	gate, err := reportGate(bestPath, best)
	if err != nil {
		return err
	}
	if f, _ := cmd.Flags().GetFloat64("min-quality"); f > 0 {
		gate.Floor = f
	}

	in := loop.Input{Upstream: best.Artifact}
	if src, _ := cmd.Flags().GetString("source"); src != "" {
		doc, err := source.Load(cmd.Context(), src, nil)
		if err != nil {
			return err
		}
		in.Source = doc.Text
	}

	_, err = runLoop(cmd, loopRun{
		Kind:       types.KindReport,
		Name:       name + "-report",
		SourcePath: bestPath,
		Input:      in,
		Gate:       gate,
	})
	return err
}

// extractionName strips the "-best.json" suffix the file sink writes.
func extractionName(bestPath string) string {
	base := filepath.Base(bestPath)
	if n, ok := strings.CutSuffix(base, "-best.json"); ok {
		return n
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// reportGate builds the gate from the upstream best iteration and, when
// present, the summary written next to it.
func reportGate(bestPath string, best types.Iteration) (loop.Gate, error) {
	q := best.Metrics.OverallQuality
	up := loop.Upstream{Name: "extraction", Present: best.Artifact != nil}

	summaryPath := filepath.Join(filepath.Dir(bestPath), extractionName(bestPath)+"-summary.yaml")
	s, err := store.ReadSummary(summaryPath)
	switch {
	case err == nil:
		up.Failed = s.Failed
	case errors.Is(err, fs.ErrNotExist):
	default:
		return loop.Gate{}, fmt.Errorf("reading extraction summary: %w", err)
	}

	return loop.Gate{UpstreamQuality: &q, Required: []loop.Upstream{up}}, nil
}

func init() {
	addLoopFlags(reportCmd)
	reportCmd.Flags().Float64("min-quality", 0, "minimum extraction quality (default 0.70)")
	reportCmd.Flags().String("source", "", "text or Markdown of the publication, for cross-referencing")
	rootCmd.AddCommand(reportCmd)
}
