package llm_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/goa-ai/llm"
)

// fakeCompleter drives scripted responses/errors for gateway tests.
type fakeCompleter struct {
	calls     int32
	responses []fakeResponse
}

type fakeResponse struct {
	text   string
	finish llm.FinishReason
	err    error
}

func (f *fakeCompleter) Complete(_ context.Context, _, _ string, _ llm.CompletionOptions) (string, llm.FinishReason, error) {
	i := atomic.AddInt32(&f.calls, 1) - 1
	if int(i) >= len(f.responses) {
		r := f.responses[len(f.responses)-1]
		return r.text, r.finish, r.err
	}
	r := f.responses[i]
	return r.text, r.finish, r.err
}

func fastPolicy() llm.RetryPolicy {
	return llm.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2}
}

func TestGatewayGenerateTextRetriesOnTransientFailure(t *testing.T) {
	fc := &fakeCompleter{responses: []fakeResponse{
		{err: llm.ErrUnavailable},
		{text: "ok", finish: llm.FinishStop},
	}}
	gw := llm.NewGateway(fc, llm.WithRetryPolicy(fastPolicy()))

	text, err := gw.GenerateText(context.Background(), llm.TextRequest{SystemPrompt: "s", UserPrompt: "u"})
	require.NoError(t, err)
	require.Equal(t, "ok", text)
	require.EqualValues(t, 2, fc.calls)
}

func TestGatewayGenerateTextGivesUpAfterMaxAttempts(t *testing.T) {
	fc := &fakeCompleter{responses: []fakeResponse{{err: llm.ErrUnavailable}}}
	gw := llm.NewGateway(fc, llm.WithRetryPolicy(llm.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, Factor: 2}))

	_, err := gw.GenerateText(context.Background(), llm.TextRequest{SystemPrompt: "s", UserPrompt: "u"})
	require.ErrorIs(t, err, llm.ErrUnavailable)
	require.EqualValues(t, 2, fc.calls)
}

func TestGatewayGenerateStructuredValidatesSchema(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	}
	fc := &fakeCompleter{responses: []fakeResponse{{text: `{"name":"Paris"}`, finish: llm.FinishStop}}}
	gw := llm.NewGateway(fc, llm.WithRetryPolicy(fastPolicy()))

	obj, err := gw.GenerateStructured(context.Background(), llm.StructuredRequest{
		SystemPrompt: "s", UserPrompt: "u", JSONSchema: schema,
	})
	require.NoError(t, err)
	require.Equal(t, "Paris", obj["name"])
}

func TestGatewayGenerateStructuredContinuesTruncatedResponse(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	}
	fc := &fakeCompleter{responses: []fakeResponse{
		{text: `{"name":"Par`, finish: llm.FinishLength},
		{text: `is"}`, finish: llm.FinishStop},
	}}
	gw := llm.NewGateway(fc, llm.WithRetryPolicy(fastPolicy()), llm.WithMaxContinuations(2))

	obj, err := gw.GenerateStructured(context.Background(), llm.StructuredRequest{
		SystemPrompt: "s", UserPrompt: "u", JSONSchema: schema,
	})
	require.NoError(t, err)
	require.Equal(t, "Paris", obj["name"])
	require.EqualValues(t, 2, fc.calls)
}

func TestGatewayGenerateStructuredFailsAfterContinuationBudget(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	}
	fc := &fakeCompleter{responses: []fakeResponse{
		{text: `{"name":"Pa`, finish: llm.FinishLength},
	}}
	gw := llm.NewGateway(fc, llm.WithRetryPolicy(fastPolicy()), llm.WithMaxContinuations(1))

	_, err := gw.GenerateStructured(context.Background(), llm.StructuredRequest{
		SystemPrompt: "s", UserPrompt: "u", JSONSchema: schema,
	})
	require.ErrorIs(t, err, llm.ErrInvalidStructuredResponse)
}

func TestGatewayGenerateStructuredRejectsSchemaMismatchImmediately(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"name"},
		"properties": map[string]any{
			"name": map[string]any{"type": "string"},
		},
	}
	fc := &fakeCompleter{responses: []fakeResponse{{text: `{"other":1}`, finish: llm.FinishStop}}}
	gw := llm.NewGateway(fc, llm.WithRetryPolicy(fastPolicy()), llm.WithMaxContinuations(2))

	_, err := gw.GenerateStructured(context.Background(), llm.StructuredRequest{
		SystemPrompt: "s", UserPrompt: "u", JSONSchema: schema,
	})
	require.ErrorIs(t, err, llm.ErrInvalidStructuredResponse)
	require.EqualValues(t, 1, fc.calls)
}
