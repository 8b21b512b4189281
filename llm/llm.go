// Package llm provides the single entry point for model calls used across
// the itinerary engine: plain-text completions and schema-constrained JSON
// completions, with mock mode, retry with backoff, truncation-continuation,
// and JSON Schema validation layered on top of a provider-specific
// Completer.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Client is the public Gateway surface used by agents and the chat router.
type Client interface {
	// GenerateText issues a plain-text completion request.
	GenerateText(ctx context.Context, req TextRequest) (string, error)
	// GenerateStructured issues a completion request constrained to the given
	// JSON Schema, retrying/continuing until a validating document is
	// produced or the attempt budget is exhausted.
	GenerateStructured(ctx context.Context, req StructuredRequest) (map[string]any, error)
}

type (
	// TextRequest parameterizes a GenerateText call.
	TextRequest struct {
		SystemPrompt string
		UserPrompt   string
		Model        string
		Temperature  float64
		MaxTokens    int
		// ItineraryID, when set, is used for per-itinerary concurrency
		// accounting by rate limiting middleware. It has no effect on the
		// generated content.
		ItineraryID string
	}

	// StructuredRequest parameterizes a GenerateStructured call.
	StructuredRequest struct {
		SystemPrompt string
		UserPrompt   string
		JSONSchema   map[string]any
		Model        string
		Temperature  float64
		MaxTokens    int
		ItineraryID  string
	}

	// FinishReason reports why a completion stopped, used by the Gateway to
	// decide whether to run the truncation-continuation loop.
	FinishReason string
)

const (
	// FinishStop indicates the model completed its response normally.
	FinishStop FinishReason = "stop"
	// FinishLength indicates the model was cut off by the token budget.
	FinishLength FinishReason = "length"
)

// Completer is the low-level interface implemented by provider adapters
// (llm/anthropic, llm/openai, llm/bedrock). The Gateway is the only caller.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts CompletionOptions) (text string, finish FinishReason, err error)
}

// CompletionOptions carries the resolved per-call generation parameters
// passed to a Completer.
type CompletionOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

var (
	// ErrUnavailable indicates the provider could not be reached or returned
	// a non-retryable server failure after exhausting retries.
	ErrUnavailable = errors.New("llm: provider unavailable")
	// ErrRateLimited indicates the provider rejected the request due to rate
	// limiting after exhausting retries.
	ErrRateLimited = errors.New("llm: rate limited")
	// ErrInvalidStructuredResponse indicates the provider's response could not
	// be parsed as JSON or did not validate against the requested schema,
	// even after continuation attempts.
	ErrInvalidStructuredResponse = errors.New("llm: invalid structured response")
	// ErrTimeout indicates the request's context deadline was exceeded.
	ErrTimeout = errors.New("llm: timeout")
)

// Error wraps a Completer failure with the sentinel Kind it maps to, so
// callers can use errors.Is while still seeing the underlying cause via
// Unwrap.
type Error struct {
	Kind  error
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

// Unwrap exposes both the sentinel Kind and the underlying Cause to
// errors.Is/errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func newError(kind error, cause error) error {
	return &Error{Kind: kind, Cause: cause}
}
