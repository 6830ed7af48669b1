// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"bytes"
	"context"
	"fmt"
	"os"
)

const (
	binDocker = "docker"
	binPodman = "podman"

	imageMarkitdown = "markitdown:latest"
)

// runtime is a container binary. Docker and Podman share the same logic;
// they differ only in binary name and the subcommand used to check image
// existence.
type runtime struct {
	bin           string
	imageCheckCmd []string
	exec          executor
}

func (r *runtime) available(ctx context.Context) bool {
	if _, err := r.exec.LookPath(r.bin); err != nil {
		return false
	}
	return r.exec.RunSilent(ctx, r.bin, "info") == nil
}

func (r *runtime) imageExists(ctx context.Context, image string) error {
	args := append(append([]string{}, r.imageCheckCmd...), image)
	if err := r.exec.RunSilent(ctx, r.bin, args...); err != nil {
		return fmt.Errorf("image %s not found in %s: %w", image, r.bin, err)
	}
	return nil
}

// detectRuntime tries docker first and falls back to podman.
func detectRuntime(exec executor) (*runtime, error) {
	candidates := []*runtime{
		{bin: binDocker, imageCheckCmd: []string{"image", "inspect"}, exec: exec},
		{bin: binPodman, imageCheckCmd: []string{"image", "exists"}, exec: exec},
	}
	for _, rt := range candidates {
		if rt.available(context.Background()) {
			return rt, nil
		}
	}
	return nil, fmt.Errorf("no container runtime available: neither %s nor %s found or operational", binDocker, binPodman)
}

// MarkitdownConverter pipes PDFs through the markitdown container image.
type MarkitdownConverter struct {
	runtime *runtime
	exec    executor
}

func (m *MarkitdownConverter) Name() string { return "markitdown (" + m.runtime.bin + ")" }

// Convert streams pdfPath into the container and returns its Markdown.
func (m *MarkitdownConverter) Convert(ctx context.Context, pdfPath string) (string, error) {
	if err := m.runtime.imageExists(ctx, imageMarkitdown); err != nil {
		return "", fmt.Errorf("markitdown image not available in %s: %w", m.runtime.bin, err)
	}

	f, err := os.Open(pdfPath)
	if err != nil {
		return "", fmt.Errorf("opening PDF %s: %w", pdfPath, err)
	}
	defer f.Close()

	var out bytes.Buffer
	args := []string{"run", "--rm", "-i", imageMarkitdown}
	if err := m.exec.RunPiped(ctx, m.runtime.bin, args, f, &out); err != nil {
		return "", fmt.Errorf("converting %s with markitdown: %w", pdfPath, err)
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("markitdown produced empty output for %s", pdfPath)
	}
	return out.String(), nil
}
