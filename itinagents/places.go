package itinagents

import (
	"context"
	"fmt"

	"goa.design/goa-ai/agentregistry"
	"goa.design/goa-ai/change"
	"goa.design/goa-ai/eventbus"
	"goa.design/goa-ai/llm"
	"goa.design/goa-ai/telemetry"
)

var placesSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"candidates": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":    map[string]any{"type": "string"},
					"type":     map[string]any{"type": "string", "enum": []any{"attraction", "meal", "accommodation", "transport"}},
					"location": map[string]any{"type": "string"},
				},
				"required": []any{"title", "type"},
			},
		},
	},
	"required": []any{"candidates"},
}

// PlacesAgent is a helper invoked by the chat router during node resolution
// or insertion: it returns candidate place suggestions and never mutates an
// itinerary directly.
type PlacesAgent struct {
	base
}

// NewPlacesAgent constructs the agent.
func NewPlacesAgent(client llm.Client, eng *change.Engine, bus eventbus.Publisher, logger telemetry.Logger) *PlacesAgent {
	return &PlacesAgent{base: newBase("PlacesAgent", client, eng, bus, logger)}
}

func (a *PlacesAgent) Name() string     { return a.base.name }
func (a *PlacesAgent) TaskType() string  { return "search" }
func (a *PlacesAgent) Priority() int     { return 40 }
func (a *PlacesAgent) ChatEnabled() bool { return false }

func (a *PlacesAgent) Execute(ctx context.Context, req agentregistry.Request) (*agentregistry.Response, error) {
	result, err := a.llm.GenerateStructured(ctx, llm.StructuredRequest{
		SystemPrompt: "Suggest real-world places matching the traveler's request. Return JSON matching the schema exactly.",
		UserPrompt:   req.ChatText,
		ItineraryID:  req.ItineraryID,
		JSONSchema:   placesSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("itinagents: PlacesAgent search failed: %w", err)
	}

	var candidates []agentregistry.Candidate
	if raw, ok := result["candidates"].([]any); ok {
		for _, rc := range raw {
			m, ok := rc.(map[string]any)
			if !ok {
				continue
			}
			day := 0
			if req.Day != nil {
				day = *req.Day
			}
			candidates = append(candidates, agentregistry.Candidate{
				Title:    stringField(m, "title"),
				Type:     stringField(m, "type"),
				Location: stringField(m, "location"),
				Day:      day,
			})
		}
	}

	return &agentregistry.Response{Candidates: candidates}, nil
}

var _ agentregistry.Agent = (*PlacesAgent)(nil)
