// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Apply the deterministic schema repair pass to a JSON document",
	Long: `Repair loads a corrected artifact and rewrites it to fit the bundled
JSON Schema: array items collapsed to bare identifiers are recovered from
the original artifact and properties the schema does not allow are
removed. Nothing is invented; unrecoverable values are left as they are.

The repaired document is printed to stdout, or written to --out.`,
	RunE: runRepair,
}

func runRepair(cmd *cobra.Command, args []string) error {
	schemaFile, _ := cmd.Flags().GetString("schema")
	dataFile, _ := cmd.Flags().GetString("data")
	originalFile, _ := cmd.Flags().GetString("original")
	out, _ := cmd.Flags().GetString("out")

	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	sch, err := schemaLoader.Load(schemaFile)
	if err != nil {
		return err
	}
	data, err := readJSON(dataFile)
	if err != nil {
		return err
	}
	var original any
	if originalFile != "" {
		if original, err = readJSON(originalFile); err != nil {
			return err
		}
	}

	repaired := repairOptions(cfg.Repair).Repair(data, sch.Raw, original)

	for _, v := range sch.Validate(repaired) {
		fmt.Fprintln(os.Stderr, "remaining violation:", v)
	}
	return writeJSONOut(out, repaired)
}

func readJSON(path string) (any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return v, nil
}

// writeJSONOut writes v indented to path, or to stdout when path is empty.
func writeJSONOut(path string, v any) error {
	if path == "" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling output: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Fprintln(os.Stderr, "wrote", path)
	return nil
}

func init() {
	repairCmd.Flags().String("schema", "", "bundled JSON Schema")
	repairCmd.Flags().String("data", "", "JSON document to repair")
	repairCmd.Flags().String("original", "", "pre-correction document used to recover collapsed items")
	repairCmd.Flags().String("out", "", "output file (default: stdout)")
	_ = repairCmd.MarkFlagRequired("schema")
	_ = repairCmd.MarkFlagRequired("data")

	rootCmd.AddCommand(repairCmd)
}
