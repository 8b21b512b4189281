// Package openai adapts the OpenAI Chat Completions API to llm.Completer.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"goa.design/goa-ai/llm"
)

// ChatCompletionsClient captures the subset of the OpenAI SDK used by the
// adapter. It is satisfied by the real client's Chat.Completions service, so
// callers can pass either the real client or a mock in tests.
type ChatCompletionsClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Options configures optional defaults applied when a request does not
// specify them.
type Options struct {
	// DefaultModel is used when a request does not set Model. Required.
	DefaultModel string
	// DefaultMaxTokens is used when a request does not set MaxTokens.
	DefaultMaxTokens int
	// DefaultTemperature is used when a request does not set Temperature.
	DefaultTemperature float64
}

// Client implements llm.Completer on top of OpenAI Chat Completions.
type Client struct {
	chat               ChatCompletionsClient
	defaultModel       string
	defaultMaxTokens   int
	defaultTemperature float64
}

// New builds an OpenAI-backed Completer from the provided chat completions
// client and configuration options.
func New(chat ChatCompletionsClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat completions client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{
		chat:               chat,
		defaultModel:       opts.DefaultModel,
		defaultMaxTokens:   opts.DefaultMaxTokens,
		defaultTemperature: opts.DefaultTemperature,
	}, nil
}

// NewFromAPIKey constructs a client using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, Options{DefaultModel: defaultModel})
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
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = c.defaultTemperature
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(userPrompt))

	params := openai.ChatCompletionNewParams{
		Model:    modelID,
		Messages: messages,
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if temperature > 0 {
		params.Temperature = openai.Float(temperature)
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", "", translateError(err)
	}
	if len(resp.Choices) == 0 {
		return "", "", fmt.Errorf("%w: openai: no choices returned", llm.ErrUnavailable)
	}
	choice := resp.Choices[0]
	finish := llm.FinishStop
	if choice.FinishReason == "length" {
		finish = llm.FinishLength
	}
	return choice.Message.Content, finish, nil
}

// Compile-time check that Client implements llm.Completer.
var _ llm.Completer = (*Client)(nil)

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
