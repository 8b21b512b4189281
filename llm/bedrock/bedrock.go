// Package bedrock adapts the AWS Bedrock Converse API to llm.Completer.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"goa.design/goa-ai/llm"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client required
// by the adapter. It matches *bedrockruntime.Client so callers can pass
// either the real client or a mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures optional defaults applied when a request does not
// specify them.
type Options struct {
	// DefaultModel is used when a request does not set Model. Required.
	DefaultModel string
	// DefaultMaxTokens is used when a request does not set MaxTokens.
	DefaultMaxTokens int32
	// DefaultTemperature is used when a request does not set Temperature.
	DefaultTemperature float32
}

// Client implements llm.Completer on top of AWS Bedrock Converse.
type Client struct {
	runtime            RuntimeClient
	defaultModel       string
	defaultMaxTokens   int32
	defaultTemperature float32
}

// New builds a Bedrock-backed Completer from the provided runtime client and
// configuration options.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{
		runtime:            runtime,
		defaultModel:       opts.DefaultModel,
		defaultMaxTokens:   opts.DefaultMaxTokens,
		defaultTemperature: opts.DefaultTemperature,
	}, nil
}

// Complete implements llm.Completer.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, opts llm.CompletionOptions) (string, llm.FinishReason, error) {
	modelID := opts.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(modelID),
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: userPrompt}},
			},
		},
	}
	if systemPrompt != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: systemPrompt}}
	}
	cfg := &brtypes.InferenceConfiguration{}
	hasCfg := false
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = int(c.defaultMaxTokens)
	}
	if maxTokens > 0 {
		v := int32(maxTokens)
		cfg.MaxTokens = &v
		hasCfg = true
	}
	temperature := float32(opts.Temperature)
	if temperature <= 0 {
		temperature = c.defaultTemperature
	}
	if temperature > 0 {
		cfg.Temperature = &temperature
		hasCfg = true
	}
	if hasCfg {
		input.InferenceConfig = cfg
	}

	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return "", "", translateError(err)
	}
	if output == nil {
		return "", "", fmt.Errorf("%w: bedrock: converse response is nil", llm.ErrUnavailable)
	}

	var text string
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
				text += tb.Value
			}
		}
	}

	finish := llm.FinishStop
	if output.StopReason == brtypes.StopReasonMaxTokens {
		finish = llm.FinishLength
	}
	return text, finish, nil
}

// Compile-time check that Client implements llm.Completer.
var _ llm.Completer = (*Client)(nil)

func translateError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", llm.ErrTimeout, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := strings.ToLower(apiErr.ErrorCode())
		if strings.Contains(code, "throttl") || strings.Contains(code, "toomanyrequests") {
			return fmt.Errorf("%w: %w", llm.ErrRateLimited, err)
		}
	}
	return fmt.Errorf("%w: %w", llm.ErrUnavailable, err)
}
