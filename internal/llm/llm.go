// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm talks to Generative AI APIs that answer with a JSON object.
// Backends classify every failure with the provider package so the control
// loop can decide whether to retry.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pdiddy/trial-engine/pkg/types"
)

// Defaults applied when AIConfig leaves a field empty.
const (
	DefaultClaudeModel = "claude-sonnet-4-5-20250929"
	DefaultOpenAIModel = "gpt-4o"
	DefaultGeminiModel = "gemini-2.5-pro"
	DefaultMaxTokens   = 8192
	DefaultTimeout     = 5 * time.Minute
)

// Request is one structured-output call.
type Request struct {
	// System sets the model's role. May be empty.
	System string

	// Prompt is the user message.
	Prompt string

	// Schema, when set, is the JSON Schema the answer must follow. Backends
	// that support structured output pass it along; the others embed it in
	// the prompt's instructions only.
	Schema map[string]any
}

// Backend abstracts the Generative AI API so tests can supply a mock.
type Backend interface {
	GenerateJSON(ctx context.Context, req Request) (map[string]any, error)
}

// New builds the backend selected by cfg.Provider.
func New(cfg types.AIConfig, logger *zap.Logger) (Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := NewLimiter(cfg.RequestsPerMinute)

	switch strings.ToLower(cfg.Provider) {
	case "", "claude", "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("claude backend: API key is required")
		}
		return &ClaudeBackend{
			APIKey:    cfg.APIKey,
			Model:     orDefault(cfg.Model, DefaultClaudeModel),
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.Timeout,
			Limiter:   limiter,
			Logger:    logger.Named("claude"),
		}, nil
	case "openai":
		return NewOpenAIBackend(cfg, limiter, logger.Named("openai"))
	case "gemini", "google":
		return NewGeminiBackend(context.Background(), cfg, limiter, logger.Named("gemini"))
	default:
		return nil, fmt.Errorf("unknown AI provider %q (supported: claude, openai, gemini)", cfg.Provider)
	}
}

// NewLimiter returns a limiter allowing perMinute calls per minute with a
// burst of one, or nil (unlimited) when perMinute is not positive. One
// limiter may be shared by concurrent runs.
func NewLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// wait blocks on l until a call is allowed. A nil limiter never blocks.
func wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
