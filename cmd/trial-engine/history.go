// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/trial-engine/internal/store"
	"github.com/pdiddy/trial-engine/pkg/types"
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recorded runs or show the iterations of one run",
	Long: `History reads the SQLite run history. Without arguments it lists runs,
newest first, optionally filtered by --kind and --name. With a run ID it
prints the quality of every iteration of that run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.Store.DBPath); err != nil {
		return fmt.Errorf("no run history at %s", cfg.Store.DBPath)
	}
	db, err := store.Open(cfg.Store.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	jsonOutput, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

	if len(args) == 1 {
		rec, err := db.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		its, err := db.Iterations(ctx, rec.ID)
		if err != nil {
			return err
		}
		if jsonOutput {
			return encodeJSON(os.Stdout, map[string]any{"run": rec, "iterations": its})
		}
		formatRun(os.Stdout, rec, its)
		return nil
	}

	kind, _ := cmd.Flags().GetString("kind")
	name, _ := cmd.Flags().GetString("name")
	limit, _ := cmd.Flags().GetInt("limit")
	recs, err := db.ListRuns(ctx, store.QueryOptions{Kind: types.Kind(kind), Name: name, Limit: limit})
	if err != nil {
		return err
	}
	if jsonOutput {
		return encodeJSON(os.Stdout, recs)
	}
	formatRuns(os.Stdout, recs)
	return nil
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatRuns(w io.Writer, recs []store.RunRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}

	fmt.Fprintf(w, "%-36s  %-10s  %-24s  %-26s  %-5s  %s\n",
		"Run", "Kind", "Name", "Status", "Iters", "Best")
	fmt.Fprintln(w, strings.Repeat("-", 118))

	for _, r := range recs {
		best := "-"
		if r.BestQuality != nil {
			best = fmt.Sprintf("%.3f", *r.BestQuality)
		}
		name := r.Name
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Fprintf(w, "%-36s  %-10s  %-24s  %-26s  %-5d  %s\n",
			r.ID, r.Kind, name, r.Status, r.IterationCount, best)
	}

	fmt.Fprintf(w, "\n%d runs\n", len(recs))
}

func formatRun(w io.Writer, r store.RunRecord, its []types.Iteration) {
	fmt.Fprintf(w, "Run:     %s\n", r.ID)
	fmt.Fprintf(w, "Kind:    %s\n", r.Kind)
	fmt.Fprintf(w, "Name:    %s\n", r.Name)
	if r.Source != "" {
		fmt.Fprintf(w, "Source:  %s\n", r.Source)
	}
	fmt.Fprintf(w, "Status:  %s\n", r.Status)
	if r.Reason != "" {
		fmt.Fprintf(w, "Reason:  %s\n", r.Reason)
	}
	fmt.Fprintf(w, "Started: %s\n", r.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%-4s  %-8s  %-8s  %-8s  %-8s  %s\n", "Iter", "Quality", "Complete", "Accuracy", "Schema", "Critical")
	fmt.Fprintln(w, strings.Repeat("-", 56))
	for _, it := range its {
		m := it.Metrics
		marker := ""
		if r.BestIteration != nil && *r.BestIteration == it.Index {
			marker = "  *best"
		}
		fmt.Fprintf(w, "%-4d  %-8.3f  %-8.3f  %-8.3f  %-8.3f  %d%s\n",
			it.Index, m.OverallQuality, m.Completeness, m.Accuracy, m.SchemaCompliance, m.CriticalIssues, marker)
	}
}

func init() {
	historyCmd.Flags().String("kind", "", "filter by kind: extraction or report")
	historyCmd.Flags().String("name", "", "filter by run name")
	historyCmd.Flags().Int("limit", 20, "maximum runs to list (0 = all)")
	historyCmd.Flags().Bool("json", false, "output as JSON")

	rootCmd.AddCommand(historyCmd)
}
