package llm

import (
	"context"
	"fmt"
	"sync"

	"goa.design/goa-ai/telemetry"
)

const (
	defaultMaxContinuations = 2
	defaultGlobalCap        = 16
	defaultItineraryCap     = 4
)

// Gateway is the concrete llm.Client. It wraps a Completer with retry with
// backoff, continuation-on-truncation, and JSON Schema validation, and
// enforces a global and per-itinerary concurrency cap to avoid provider
// rate-limit storms. It does no mock substitution of its own: mock mode is a
// MockBackend passed in as the Completer.
type Gateway struct {
	completer        Completer
	retry            RetryPolicy
	maxContinuations int
	logger           telemetry.Logger
	metrics          telemetry.Metrics

	globalSem chan struct{}

	mu         sync.Mutex
	perItinCap int
	perItin    map[string]chan struct{}
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithRetryPolicy overrides the default retry policy (3 attempts, 500ms base, factor 2).
func WithRetryPolicy(p RetryPolicy) GatewayOption {
	return func(g *Gateway) { g.retry = p }
}

// WithMaxContinuations overrides the default truncation-continuation budget (2).
func WithMaxContinuations(n int) GatewayOption {
	return func(g *Gateway) {
		if n >= 0 {
			g.maxContinuations = n
		}
	}
}

// WithConcurrencyCaps overrides the default global (16) and per-itinerary (4)
// concurrency caps.
func WithConcurrencyCaps(global, perItinerary int) GatewayOption {
	return func(g *Gateway) {
		if global > 0 {
			g.globalSem = make(chan struct{}, global)
		}
		if perItinerary > 0 {
			g.perItinCap = perItinerary
		}
	}
}

// WithTelemetry attaches a logger and metrics sink.
func WithTelemetry(logger telemetry.Logger, metrics telemetry.Metrics) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
		if metrics != nil {
			g.metrics = metrics
		}
	}
}

// NewGateway constructs a Gateway backed by completer (a provider adapter or
// a MockBackend; see mock.go for the canned-response backend used in mock
// mode).
func NewGateway(completer Completer, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		completer:        completer,
		retry:            defaultRetryPolicy(),
		maxContinuations: defaultMaxContinuations,
		logger:           telemetry.NewNoopLogger(),
		metrics:          telemetry.NewNoopMetrics(),
		globalSem:        make(chan struct{}, defaultGlobalCap),
		perItinCap:       defaultItineraryCap,
		perItin:          make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Compile-time check that Gateway implements Client.
var _ Client = (*Gateway)(nil)

func (g *Gateway) acquire(ctx context.Context, itineraryID string) (release func(), err error) {
	select {
	case g.globalSem <- struct{}{}:
	case <-ctx.Done():
		return nil, newError(ErrTimeout, ctx.Err())
	}
	var itinSem chan struct{}
	if itineraryID != "" {
		itinSem = g.itinerarySem(itineraryID)
		select {
		case itinSem <- struct{}{}:
		case <-ctx.Done():
			<-g.globalSem
			return nil, newError(ErrTimeout, ctx.Err())
		}
	}
	return func() {
		if itinSem != nil {
			<-itinSem
		}
		<-g.globalSem
	}, nil
}

func (g *Gateway) itinerarySem(itineraryID string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.perItin[itineraryID]
	if !ok {
		ch = make(chan struct{}, g.perItinCap)
		g.perItin[itineraryID] = ch
	}
	return ch
}

// GenerateText issues a plain-text completion, retrying on transient
// failures per the configured RetryPolicy.
func (g *Gateway) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	release, err := g.acquire(ctx, req.ItineraryID)
	if err != nil {
		return "", err
	}
	defer release()

	var out string
	err = withRetry(ctx, g.retry, func() error {
		text, _, cerr := g.completer.Complete(ctx, req.SystemPrompt, req.UserPrompt, CompletionOptions{
			Model:       req.Model,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
		if cerr != nil {
			return cerr
		}
		out = text
		return nil
	})
	if err != nil {
		g.logger.Error(ctx, "llm: generateText failed", "error", err)
		return "", err
	}
	return out, nil
}

// GenerateStructured issues a completion constrained to req.JSONSchema. When
// the response looks truncated it re-prompts with a continuation
// instruction up to g.maxContinuations times, then validates the
// concatenated output against the schema. Returns
// ErrInvalidStructuredResponse if no attempt validates.
func (g *Gateway) GenerateStructured(ctx context.Context, req StructuredRequest) (map[string]any, error) {
	release, err := g.acquire(ctx, req.ItineraryID)
	if err != nil {
		return nil, err
	}
	defer release()

	schema, err := compileSchema(req.JSONSchema)
	if err != nil {
		return nil, newError(ErrInvalidStructuredResponse, err)
	}

	system := structuredSystemPrompt(req.SystemPrompt, req.JSONSchema)

	var accumulated string
	userPrompt := req.UserPrompt
	for attempt := 0; attempt <= g.maxContinuations; attempt++ {
		var piece string
		var finish FinishReason
		err = withRetry(ctx, g.retry, func() error {
			text, f, cerr := g.completer.Complete(ctx, system, userPrompt, CompletionOptions{
				Model:       req.Model,
				Temperature: req.Temperature,
				MaxTokens:   req.MaxTokens,
			})
			if cerr != nil {
				return cerr
			}
			piece, finish = text, f
			return nil
		})
		if err != nil {
			g.logger.Error(ctx, "llm: generateStructured failed", "error", err)
			return nil, err
		}
		accumulated += piece

		obj, verr := validateAgainst(schema, accumulated)
		if verr == nil {
			return obj, nil
		}
		if finish != FinishLength && !looksTruncated(accumulated) {
			// Not truncated: a continuation would not help, so surface the
			// validation failure immediately.
			return nil, newError(ErrInvalidStructuredResponse, verr)
		}
		if attempt == g.maxContinuations {
			return nil, newError(ErrInvalidStructuredResponse, fmt.Errorf("exhausted %d continuation attempts: %w", g.maxContinuations, verr))
		}
		userPrompt = continuationPrompt(req.UserPrompt, accumulated)
		g.metrics.IncCounter("llm.structured.continuation", 1, "itinerary", req.ItineraryID)
	}
	return nil, newError(ErrInvalidStructuredResponse, fmt.Errorf("no structured response produced"))
}

func structuredSystemPrompt(system string, schema map[string]any) string {
	if system == "" {
		return "Respond with a single JSON object matching the provided schema. Do not include any prose outside the JSON object."
	}
	return system + "\n\nRespond with a single JSON object matching the provided schema. Do not include any prose outside the JSON object."
}
