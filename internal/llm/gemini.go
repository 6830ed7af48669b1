// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/pdiddy/trial-engine/internal/provider"
	"github.com/pdiddy/trial-engine/pkg/types"
)

// GeminiBackend calls the Gemini API with a JSON response MIME type.
type GeminiBackend struct {
	client    *genai.Client
	model     string
	maxTokens int
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewGeminiBackend creates a Gemini backend. cfg.BaseURL overrides the API
// endpoint.
func NewGeminiBackend(ctx context.Context, cfg types.AIConfig, limiter *rate.Limiter, logger *zap.Logger) (*GeminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini backend: API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &GeminiBackend{
		client:    client,
		model:     orDefault(cfg.Model, DefaultGeminiModel),
		maxTokens: orDefault(cfg.MaxTokens, DefaultMaxTokens),
		timeout:   orDefault(cfg.Timeout, DefaultTimeout),
		limiter:   limiter,
		logger:    logger,
	}, nil
}

// GenerateJSON sends one prompt and decodes the answer as a JSON object.
func (b *GeminiBackend) GenerateJSON(ctx context.Context, r Request) (map[string]any, error) {
	const op = "gemini"

	if err := wait(ctx, b.limiter); err != nil {
		return nil, provider.Transient(op, fmt.Errorf("rate limiter: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		MaxOutputTokens:  int32(b.maxTokens),
		ResponseMIMEType: "application/json",
	}
	if r.System != "" {
		config.SystemInstruction = genai.NewContentFromText(r.System, genai.RoleUser)
	}

	start := time.Now()
	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(r.Prompt), config)
	if err != nil {
		return nil, classifyGemini(op, err)
	}
	fields := []zap.Field{zap.String("model", b.model), zap.Duration("elapsed", time.Since(start))}
	if resp.UsageMetadata != nil {
		fields = append(fields, zap.Int32("total_tokens", resp.UsageMetadata.TotalTokenCount))
	}
	b.logger.Debug("gemini call completed", fields...)

	if len(resp.Candidates) == 0 {
		return nil, provider.Parse(op, errors.New("no candidates in Gemini response"))
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		return nil, provider.Parse(op, fmt.Errorf("response truncated at %d tokens", b.maxTokens))
	}

	obj, err := ParseObject(resp.Text())
	if err != nil {
		return nil, provider.Parse(op, err)
	}
	return obj, nil
}

// classifyGemini maps genai errors onto the provider taxonomy.
func classifyGemini(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code != 0 {
		return provider.FromStatus(op, apiErr.Code, apiErr.Message)
	}
	var apiPtr *genai.APIError
	if errors.As(err, &apiPtr) && apiPtr.Code != 0 {
		return provider.FromStatus(op, apiPtr.Code, apiPtr.Message)
	}
	return provider.Transient(op, err)
}
