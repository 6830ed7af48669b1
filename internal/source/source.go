// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package source turns the document a run extracts from into plain text.
// Text and Markdown files are read as-is; PDFs go through a pluggable
// Converter backed by an external tool.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Document is the text of one source file.
type Document struct {
	// Name is the file name without its extension. Outputs are named after it.
	Name string
	Path string
	Text string
}

// Converter transforms a PDF file into text. Different backends (pdftotext,
// a containerized markitdown) implement this interface.
type Converter interface {
	Name() string
	Convert(ctx context.Context, pdfPath string) (string, error)
}

// Load reads path into a Document. conv is only consulted for PDFs and may
// be nil when none are expected.
func Load(ctx context.Context, path string, conv Converter) (Document, error) {
	doc := Document{
		Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path: path,
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown":
		data, err := os.ReadFile(path)
		if err != nil {
			return Document{}, fmt.Errorf("reading source %s: %w", path, err)
		}
		doc.Text = string(data)
	case ".pdf":
		if conv == nil {
			return Document{}, fmt.Errorf("no PDF converter configured for %s", path)
		}
		if _, err := os.Stat(path); err != nil {
			return Document{}, fmt.Errorf("reading source %s: %w", path, err)
		}
		text, err := conv.Convert(ctx, path)
		if err != nil {
			return Document{}, err
		}
		doc.Text = text
	default:
		return Document{}, fmt.Errorf("unsupported source type %q (want .pdf, .txt or .md)", filepath.Ext(path))
	}

	if strings.TrimSpace(doc.Text) == "" {
		return Document{}, fmt.Errorf("source %s contains no text", path)
	}
	return doc, nil
}

// Detect returns the first available converter: pdftotext on PATH, then
// markitdown through docker or podman.
func Detect() (Converter, error) {
	return detect(defaultExec)
}

func detect(exec executor) (Converter, error) {
	if p := newPdftotext(exec); p.Available() {
		return p, nil
	}
	if rt, err := detectRuntime(exec); err == nil {
		return &MarkitdownConverter{runtime: rt, exec: exec}, nil
	}
	return nil, fmt.Errorf("no PDF converter available: install %s or a container runtime (%s, %s)", binPdftotext, binDocker, binPodman)
}
