// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/trial-engine/internal/extraction"
	"github.com/pdiddy/trial-engine/internal/llm"
	"github.com/pdiddy/trial-engine/internal/loop"
	"github.com/pdiddy/trial-engine/internal/metrics"
	"github.com/pdiddy/trial-engine/internal/schema"
	"github.com/pdiddy/trial-engine/internal/store"
	"github.com/pdiddy/trial-engine/pkg/types"
)

var schemaLoader = schema.NewLoader(10 * time.Minute)

// loopRun is everything one invocation of the loop needs.
type loopRun struct {
	Kind       types.Kind
	Name       string
	SourcePath string
	Input      loop.Input
	Gate       loop.Gate
}

// runLoop wires the configured backend, schema, sinks and observers into an
// orchestrator and runs it. A blocked or failed run is returned as an error
// so the process exits non-zero.
func runLoop(cmd *cobra.Command, lr loopRun) (loop.Result, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return loop.Result{}, err
	}
	if n, _ := cmd.Flags().GetInt("max-iterations"); cmd.Flags().Changed("max-iterations") {
		cfg.Loop.MaxIterations = n
	}
	th, err := thresholds(cfg, lr.Kind)
	if err != nil {
		return loop.Result{}, err
	}

	backend, err := llm.New(cfg.AI, logger)
	if err != nil {
		return loop.Result{}, err
	}

	schemaFlag, _ := cmd.Flags().GetString("schema")
	var sch *schema.Schema
	if p := schemaPath(cfg, lr.Kind, schemaFlag); p != "" {
		sch, err = schemaLoader.Load(p)
		if err != nil {
			return loop.Result{}, err
		}
		lr.Input.Schema = sch.Raw
	} else {
		logger.Warn("no schema configured, skipping mechanical validation and repair", zap.String("kind", string(lr.Kind)))
	}

	files, err := store.NewFileSink(cfg.Store.OutputDir, lr.Name, lr.Kind)
	if err != nil {
		return loop.Result{}, err
	}
	sinks := store.Multi{files}

	history, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		logger.Warn("run history unavailable", zap.String("path", cfg.Store.DBPath), zap.Error(err))
	} else {
		defer history.Close()
		run, err := history.BeginRun(ctx, lr.Kind, lr.Name, lr.SourcePath)
		if err != nil {
			logger.Warn("recording run failed", zap.Error(err))
		} else {
			files.RunID = run.ID
			sinks = append(sinks, run)
		}
	}

	collector := metrics.NewCollector("trial_engine", logger)
	progress := fanout{newWriterProgress(os.Stderr), collector}

	orch := loop.New(
		&extraction.Generator{Backend: backend, Logger: logger},
		&extraction.Validator{Backend: backend, Schema: sch, Logger: logger},
		&extraction.Corrector{Backend: backend, Logger: logger},
		loop.WithSink(sinks),
		loop.WithProgress(progress),
		loop.WithLogger(logger),
		loop.WithRetryPolicy(retryPolicy(cfg.Loop.Retry)),
		loop.WithSchemaFloor(cfg.Loop.SchemaFloor),
		loop.WithRepairOptions(repairOptions(cfg.Repair)),
	)

	lr.Input.Kind = lr.Kind
	lr.Input.Name = lr.Name
	res := orch.Run(ctx, loop.Request{
		Input:         lr.Input,
		Gate:          lr.Gate,
		Thresholds:    &th,
		MaxIterations: cfg.Loop.MaxIterations,
		Window:        cfg.Loop.DegradationWindow,
	})

	if p, _ := cmd.Flags().GetString("metrics-file"); p != "" {
		if err := collector.WriteTextfile(p); err != nil {
			logger.Warn("metrics not written", zap.Error(err))
		}
	}

	if res.Best != nil {
		fmt.Fprintf(os.Stderr, "best artifact: %s\n", files.BestPath())
	}
	if res.Status == loop.StatusBlocked || res.Status.Failed() {
		return res, fmt.Errorf("%s %s: %s", lr.Kind, res.Status, res.Reason)
	}
	return res, nil
}

// addLoopFlags registers the flags shared by extract and report.
func addLoopFlags(cmd *cobra.Command) {
	cmd.Flags().String("schema", "", "bundled JSON Schema of the artifact (overrides schemas.<kind>)")
	cmd.Flags().Int("max-iterations", 3, "maximum correction rounds (overrides loop.max_iterations)")
	cmd.Flags().String("metrics-file", "", "write Prometheus metrics to this textfile when the run ends")
}
