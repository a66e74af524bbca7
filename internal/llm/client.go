// Package llm wraps the Anthropic messages API behind the small completion
// surface the analysis pipeline needs. The provider is treated as unreliable;
// every caller degrades to a deterministic fallback on error.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Completer is the completion surface consumed by the embedding and insight
// stages.
type Completer interface {
	Complete(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error)
}

// Config holds provider settings.
type Config struct {
	APIKey    string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// Client is an Anthropic-backed Completer.
type Client struct {
	client    anthropic.Client
	model     string
	timeout   time.Duration
	maxTokens int
	logger    *slog.Logger
}

// NewClient constructs a Client. Returns nil when no API key is configured,
// which callers treat as "provider unavailable" and skip to fallbacks.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Client{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     cfg.Model,
		timeout:   cfg.Timeout,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}
}

// Complete sends one user prompt with an optional system prompt and returns
// the text of the response. The call is bounded by the configured timeout.
func (c *Client) Complete(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	if c == nil {
		return "", fmt.Errorf("llm client not configured")
	}
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if temperature > 0 {
		params.Temperature = anthropic.Float(temperature)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	resp, err := c.client.Messages.New(callCtx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("anthropic completion returned no text")
	}

	c.logger.Debug("llm completion",
		slog.String("model", c.model),
		slog.Int("response_length", text.Len()),
		slog.Duration("duration", time.Since(start)))
	return text.String(), nil
}
