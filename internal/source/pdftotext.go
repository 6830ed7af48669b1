// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"bytes"
	"context"
	"fmt"
	"strings"
)

const binPdftotext = "pdftotext"

// PdftotextConverter runs poppler's pdftotext with layout preservation, so
// tables keep their columns.
type PdftotextConverter struct {
	exec executor
}

// NewPdftotextConverter returns a converter that shells out to pdftotext.
func NewPdftotextConverter() *PdftotextConverter { return newPdftotext(defaultExec) }

func newPdftotext(exec executor) *PdftotextConverter { return &PdftotextConverter{exec: exec} }

func (p *PdftotextConverter) Name() string { return binPdftotext }

// Available reports whether pdftotext is on PATH.
func (p *PdftotextConverter) Available() bool {
	_, err := p.exec.LookPath(binPdftotext)
	return err == nil
}

// Convert extracts the text of pdfPath. Pages are separated by form feeds,
// which are replaced with page markers.
func (p *PdftotextConverter) Convert(ctx context.Context, pdfPath string) (string, error) {
	var out bytes.Buffer
	args := []string{"-layout", "-enc", "UTF-8", pdfPath, "-"}
	if err := p.exec.RunPiped(ctx, binPdftotext, args, nil, &out); err != nil {
		return "", fmt.Errorf("converting %s with pdftotext: %w", pdfPath, err)
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", fmt.Errorf("pdftotext produced empty output for %s (scanned PDF?)", pdfPath)
	}
	return markPages(out.String()), nil
}

// markPages replaces form feeds with "<!-- page N -->" markers so the
// models can cite page numbers.
func markPages(text string) string {
	pages := strings.Split(strings.TrimRight(text, "\f\n"), "\f")
	if len(pages) == 1 {
		return text
	}
	var b strings.Builder
	for i, page := range pages {
		fmt.Fprintf(&b, "<!-- page %d -->\n", i+1)
		b.WriteString(strings.TrimLeft(page, "\n"))
		if !strings.HasSuffix(page, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
