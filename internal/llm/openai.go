// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pdiddy/trial-engine/internal/provider"
	"github.com/pdiddy/trial-engine/pkg/types"
)

// OpenAIBackend calls the OpenAI Chat Completions API in JSON mode.
type OpenAIBackend struct {
	client    *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewOpenAIBackend creates an OpenAI backend. cfg.BaseURL points the client
// at a compatible gateway.
func NewOpenAIBackend(cfg types.AIConfig, limiter *rate.Limiter, logger *zap.Logger) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai backend: API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIBackend{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     orDefault(cfg.Model, DefaultOpenAIModel),
		maxTokens: orDefault(cfg.MaxTokens, DefaultMaxTokens),
		timeout:   orDefault(cfg.Timeout, DefaultTimeout),
		limiter:   limiter,
		logger:    logger,
	}, nil
}

// GenerateJSON sends one prompt and decodes the answer as a JSON object.
func (b *OpenAIBackend) GenerateJSON(ctx context.Context, r Request) (map[string]any, error) {
	const op = "openai"

	if err := wait(ctx, b.limiter); err != nil {
		return nil, provider.Transient(op, fmt.Errorf("rate limiter: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var messages []openai.ChatCompletionMessage
	if r.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: r.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: r.Prompt})

	start := time.Now()
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          b.model,
		Messages:       messages,
		MaxTokens:      b.maxTokens,
		Temperature:    0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, classifyOpenAI(op, err)
	}
	b.logger.Debug("openai call completed",
		zap.String("model", b.model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)

	if len(resp.Choices) == 0 {
		return nil, provider.Parse(op, errors.New("no choices in OpenAI response"))
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonLength {
		return nil, provider.Parse(op, fmt.Errorf("response truncated at %d tokens", b.maxTokens))
	}

	obj, err := ParseObject(choice.Message.Content)
	if err != nil {
		return nil, provider.Parse(op, err)
	}
	return obj, nil
}

// classifyOpenAI maps go-openai errors onto the provider taxonomy.
func classifyOpenAI(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return provider.FromStatus(op, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return provider.FromStatus(op, reqErr.HTTPStatusCode, reqErr.Error())
	}
	// Connection failures and timeouts.
	return provider.Transient(op, err)
}
