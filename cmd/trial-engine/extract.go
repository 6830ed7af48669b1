// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/trial-engine/internal/loop"
	"github.com/pdiddy/trial-engine/internal/source"
	"github.com/pdiddy/trial-engine/pkg/types"
)

var extractCmd = &cobra.Command{
	Use:   "extract <source...>",
	Short: "Extract structured trial data from publications",
	Long: `Extract reads each source (a PDF, or pre-converted text or Markdown),
asks the model for a structured extraction and runs the
validation-correction loop on it.

PDFs are converted with pdftotext when it is installed, otherwise with
the markitdown container image through docker or podman. Several sources
can be extracted in parallel with --concurrency; ai.requests_per_minute
still bounds the call rate of each run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExtract,
}

func runExtract(cmd *cobra.Command, args []string) error {
	var conv source.Converter
	if needsConverter(args) {
		c, err := source.Detect()
		if err != nil {
			return err
		}
		logger.Debug("pdf converter", zap.String("name", c.Name()))
		conv = c
	}

	concurrency, _ := cmd.Flags().GetInt("concurrency")
	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(max(concurrency, 1))

	for _, path := range args {
		g.Go(func() error {
			doc, err := source.Load(cmd.Context(), path, conv)
			if err != nil {
				logger.Error("loading source", zap.String("path", path), zap.Error(err))
				failed.Add(1)
				return nil
			}
			_, err = runLoop(cmd, loopRun{
				Kind:       types.KindExtraction,
				Name:       doc.Name,
				SourcePath: path,
				Input:      loop.Input{Source: doc.Text},
			})
			if err != nil {
				logger.Error("extraction did not complete", zap.String("name", doc.Name), zap.Error(err))
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d source(s) failed extraction", n, len(args))
	}
	return nil
}

func needsConverter(paths []string) bool {
	for _, p := range paths {
		if strings.EqualFold(filepath.Ext(p), ".pdf") {
			return true
		}
	}
	return false
}

func init() {
	addLoopFlags(extractCmd)
	extractCmd.Flags().Int("concurrency", 1, "number of sources extracted in parallel")
	rootCmd.AddCommand(extractCmd)
}
