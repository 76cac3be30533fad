package agent

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// statusError lets completeWithRetry's retryableStatus check work against
// errors the Anthropic SDK returns for non-2xx responses.
type statusError struct {
	code int
	err  error
}

func (e *statusError) StatusCode() int { return e.code }
func (e *statusError) Error() string   { return e.err.Error() }
func (e *statusError) Unwrap() error   { return e.err }

// AnthropicClient is a ModelClient backed by the Anthropic Messages API.
type AnthropicClient struct {
	client      anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
}

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int64
	Temperature float64
}

// NewAnthropicClient constructs a ModelClient for cfg.Model.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return &AnthropicClient{
		client:      anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:       anthropic.Model(cfg.Model),
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}
}

// Complete sends a single-turn request with systemPrompt as the system
// message and userPrompt as the sole user turn.
func (c *AnthropicClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		if apiErr, ok := asAPIError(err); ok {
			return "", &statusError{code: apiErr, err: err}
		}
		return "", fmt.Errorf("agent: anthropic request: %w", err)
	}

	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}
	return out, nil
}

// asAPIError extracts an HTTP status code from an Anthropic SDK error, if
// the SDK surfaces one.
func asAPIError(err error) (int, bool) {
	type statusCoder interface{ StatusCode() int }
	if sc, ok := err.(statusCoder); ok {
		return sc.StatusCode(), true
	}
	return 0, false
}
