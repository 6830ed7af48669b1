// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pdiddy/trial-engine/internal/loop"
)

// writerProgress prints one human-readable line per loop milestone.
type writerProgress struct {
	w io.Writer

	mu   sync.Mutex
	name string
	verb string
}

func newWriterProgress(w io.Writer) *writerProgress { return &writerProgress{w: w} }

func (p *writerProgress) Event(step, status string, payload map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case step == loop.StepLoop && status == "started":
		p.name, _ = payload["name"].(string)
		kind, _ := payload["kind"].(string)
		p.verb = "extract"
		if kind == "report" {
			p.verb = "report"
		}
		fmt.Fprintf(p.w, "%s %s\n", gerund(p.verb), p.name)

	case step == loop.StepValidate && status == "completed":
		fmt.Fprintf(p.w, "  %s iteration %v: quality %.3f, critical issues %v\n",
			p.name, payload["iteration"], payload["overall_quality"], payload["critical_issues"])

	case step == loop.StepCorrect && status == "started":
		line := fmt.Sprintf("  %s correcting iteration %v", p.name, payload["iteration"])
		if f, ok := payload["failures"].([]string); ok && len(f) > 0 {
			line += " (" + strings.Join(f, "; ") + ")"
		}
		fmt.Fprintln(p.w, line)

	case step == loop.StepLoop:
		reason, _ := payload["reason"].(string)
		s, _ := payload["status"].(string)
		switch status {
		case "blocked":
			fmt.Fprintf(p.w, "BLOCKED %s: %s\n", p.name, reason)
		case "failed":
			fmt.Fprintf(p.w, "FAILED %s: %s (%s)\n", p.name, s, reason)
		default:
			line := fmt.Sprintf("%sed %s: %s", p.verb, p.name, s)
			if q, ok := payload["best_quality"].(float64); ok {
				line += fmt.Sprintf(", best iteration %v quality %.3f", payload["best_iteration"], q)
			}
			fmt.Fprintln(p.w, line)
		}
	}
}

func gerund(verb string) string {
	if verb == "report" {
		return "reporting"
	}
	return "extracting"
}

// fanout forwards events to several observers.
type fanout []loop.Progress

func (f fanout) Event(step, status string, payload map[string]any) {
	for _, p := range f {
		p.Event(step, status, payload)
	}
}
