// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a JSON document against a bundled JSON Schema",
	Long: `Validate reports every JSON Schema violation in --data without calling
a model. The command fails when the document is not valid.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaFile, _ := cmd.Flags().GetString("schema")
		dataFile, _ := cmd.Flags().GetString("data")

		sch, err := schemaLoader.Load(schemaFile)
		if err != nil {
			return err
		}
		data, err := readJSON(dataFile)
		if err != nil {
			return err
		}

		violations := sch.Validate(data)
		if len(violations) == 0 {
			fmt.Fprintf(os.Stdout, "%s: valid\n", dataFile)
			return nil
		}
		for _, v := range violations {
			fmt.Fprintln(os.Stdout, v)
		}
		return fmt.Errorf("%s: %d schema violation(s)", dataFile, len(violations))
	},
}

func init() {
	validateCmd.Flags().String("schema", "", "bundled JSON Schema")
	validateCmd.Flags().String("data", "", "JSON document to check")
	_ = validateCmd.MarkFlagRequired("schema")
	_ = validateCmd.MarkFlagRequired("data")

	rootCmd.AddCommand(validateCmd)
}
