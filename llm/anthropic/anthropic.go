// Package anthropic adapts the Anthropic Claude Messages API to llm.Completer.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"goa.design/goa-ai/llm"
)

// MessagesClient captures the subset of the Anthropic SDK client used by the
// adapter. It is satisfied by *sdk.MessageService, so callers can pass either
// a real client or a mock in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures optional defaults applied when a request does not
// specify them.
type Options struct {
	// DefaultModel is used when a TextRequest/StructuredRequest does not set
	// Model. Required.
	DefaultModel string
	// DefaultMaxTokens is used when a request does not set MaxTokens.
	DefaultMaxTokens int
	// DefaultTemperature is used when a request does not set Temperature.
	DefaultTemperature float64
}

// Client implements llm.Completer on top of Anthropic Claude Messages.
type Client struct {
	msg                MessagesClient
	defaultModel       string
	defaultMaxTokens   int
	defaultTemperature float64
}

// New builds an Anthropic-backed Completer from the provided Messages client
// and configuration options.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &Client{
		msg:                msg,
		defaultModel:       opts.DefaultModel,
		defaultMaxTokens:   opts.DefaultMaxTokens,
		defaultTemperature: opts.DefaultTemperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client,
// reading ANTHROPIC_API_KEY-style configuration via option.WithAPIKey.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Complete implements llm.Completer.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, opts llm.CompletionOptions) (string, llm.FinishReason, error) {
	modelID := opts.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.defaultMaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = c.defaultTemperature
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: systemPrompt}}
	}
	if temperature > 0 {
		params.Temperature = sdk.Float(temperature)
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return "", "", translateError(err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	finish := llm.FinishStop
	if msg.StopReason == "max_tokens" {
		finish = llm.FinishLength
	}
	return text, finish, nil
}

// Compile-time check that Client implements llm.Completer.
var _ llm.Completer = (*Client)(nil)

// translateError classifies provider errors by inspecting the error text
// for well-known status markers, since the SDK surfaces HTTP failures as
// opaque *sdk.Error values whose exact shape varies across client
// versions. A context deadline/cancellation always maps to ErrTimeout.
func translateError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", llm.ErrTimeout, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return fmt.Errorf("%w: %w", llm.ErrRateLimited, err)
	default:
		return fmt.Errorf("%w: %w", llm.ErrUnavailable, err)
	}
}
