//go:build mage

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Extract builds the CLI and runs the extraction loop on every PDF in papers/.
func Extract() error {
	mg.Deps(Build)
	pdfs, err := filepath.Glob(filepath.Join("papers", "*.pdf"))
	if err != nil {
		return err
	}
	if len(pdfs) == 0 {
		fmt.Println("[extract] No PDFs in papers/.")
		return nil
	}
	args := append([]string{"extract"}, pdfs...)
	return sh.RunV(filepath.Join(binDir, binName), args...)
}

// Report generates a report from every best extraction in output/.
func Report() error {
	mg.Deps(Build)
	bests, err := filepath.Glob(filepath.Join("output", "*-best.json"))
	if err != nil {
		return err
	}
	failed := 0
	for _, b := range bests {
		if isReportOutput(b) {
			continue
		}
		if err := sh.RunV(filepath.Join(binDir, binName), "report", b); err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d report(s) did not complete", failed)
	}
	return nil
}

// isReportOutput reports whether path is the best file of a report run.
func isReportOutput(path string) bool {
	base := filepath.Base(path)
	ok, _ := filepath.Match("*-report-best.json", base)
	return ok
}
