// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pdiddy/trial-engine/internal/httputil"
	"github.com/pdiddy/trial-engine/internal/provider"
)

// claudeAPIURL is the Claude API endpoint. Package-level var for test substitution.
var claudeAPIURL = "https://api.anthropic.com/v1/messages"

const anthropicVersion = "2023-06-01"

// ClaudeBackend calls the Claude Messages API.
type ClaudeBackend struct {
	APIKey    string
	Model     string
	BaseURL   string // overrides claudeAPIURL when set
	MaxTokens int
	Timeout   time.Duration
	Client    *http.Client
	Limiter   *rate.Limiter
	Logger    *zap.Logger

	// ThrottleRetries bounds the in-call retries on 429/503/529 before the
	// response is handed to the loop's own retry policy.
	ThrottleRetries int
}

// claudeRequest is the request body for the Claude Messages API.
type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []claudeMessage `json:"messages"`
}

// claudeMessage is a single message in the Claude API conversation.
type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// claudeResponse is the response body from the Claude Messages API.
type claudeResponse struct {
	Content    []claudeContent `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// claudeContent is a content block in the Claude API response.
type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// GenerateJSON sends one prompt and decodes the answer as a JSON object.
func (c *ClaudeBackend) GenerateJSON(ctx context.Context, r Request) (map[string]any, error) {
	const op = "claude"
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := wait(ctx, c.Limiter); err != nil {
		return nil, provider.Transient(op, fmt.Errorf("rate limiter: %w", err))
	}

	timeout := orDefault(c.Timeout, DefaultTimeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	bodyBytes, err := json.Marshal(claudeRequest{
		Model:     c.Model,
		MaxTokens: orDefault(c.MaxTokens, DefaultMaxTokens),
		System:    r.System,
		Messages:  []claudeMessage{{Role: "user", Content: r.Prompt}},
	})
	if err != nil {
		return nil, provider.Fatal(op, fmt.Errorf("marshaling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, orDefault(c.BaseURL, claudeAPIURL), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, provider.Fatal(op, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := httputil.DoWithRetry(ctx, client, req, c.ThrottleRetries, logger)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, provider.Transient(op, fmt.Errorf("calling Claude API: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, provider.FromStatus(op, resp.StatusCode, string(body))
	}

	var cResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return nil, provider.Transient(op, fmt.Errorf("decoding Claude response: %w", err))
	}
	logger.Debug("claude call completed",
		zap.String("model", c.Model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("input_tokens", cResp.Usage.InputTokens),
		zap.Int("output_tokens", cResp.Usage.OutputTokens),
		zap.String("stop_reason", cResp.StopReason),
	)

	if cResp.StopReason == "max_tokens" {
		return nil, provider.Parse(op, fmt.Errorf("response truncated at %d tokens", orDefault(c.MaxTokens, DefaultMaxTokens)))
	}

	for _, block := range cResp.Content {
		if block.Type != "text" {
			continue
		}
		obj, err := ParseObject(block.Text)
		if err != nil {
			return nil, provider.Parse(op, err)
		}
		return obj, nil
	}
	return nil, provider.Parse(op, errors.New("no text content in Claude API response"))
}
