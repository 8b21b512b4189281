package itinagents

import (
	"context"
	"fmt"

	"goa.design/goa-ai/agentregistry"
	"goa.design/goa-ai/change"
	"goa.design/goa-ai/eventbus"
	"goa.design/goa-ai/llm"
	"goa.design/goa-ai/store"
	"goa.design/goa-ai/telemetry"
)

var creationExtractionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"destination": map[string]any{"type": "string"},
		"startDate":   map[string]any{"type": "string"},
		"endDate":     map[string]any{"type": "string"},
		"partySize":   map[string]any{"type": "integer"},
		"budgetTier":  map[string]any{"type": "string", "enum": []any{"budget", "midrange", "luxury"}},
		"interests":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []any{"destination", "startDate", "endDate"},
}

// DayByDayPlannerAgent creates a brand-new itinerary from a chat turn when
// the conversation names no existing itinerary, by extracting a
// CreationRequest from free text and delegating to the same generation
// logic PlannerAgent uses.
type DayByDayPlannerAgent struct {
	base
	planner *PlannerAgent
}

// NewDayByDayPlannerAgent constructs the agent.
func NewDayByDayPlannerAgent(client llm.Client, eng *change.Engine, bus eventbus.Publisher, st store.Store, logger telemetry.Logger) *DayByDayPlannerAgent {
	return &DayByDayPlannerAgent{
		base:    newBase("DayByDayPlannerAgent", client, eng, bus, logger),
		planner: NewPlannerAgent(client, eng, bus, st, logger),
	}
}

func (a *DayByDayPlannerAgent) Name() string     { return a.base.name }
func (a *DayByDayPlannerAgent) TaskType() string  { return "plan" }
func (a *DayByDayPlannerAgent) Priority() int     { return 5 }
func (a *DayByDayPlannerAgent) ChatEnabled() bool { return true }

func (a *DayByDayPlannerAgent) Execute(ctx context.Context, req agentregistry.Request) (*agentregistry.Response, error) {
	extracted, err := a.llm.GenerateStructured(ctx, llm.StructuredRequest{
		SystemPrompt: "Extract trip creation details from the traveler's message. Return JSON matching the schema exactly.",
		UserPrompt:   req.ChatText,
		ItineraryID:  req.ItineraryID,
		JSONSchema:   creationExtractionSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("itinagents: DayByDayPlannerAgent could not extract trip details: %w", err)
	}

	creation := CreationRequest{
		Destination: stringField(extracted, "destination"),
		StartDate:   stringField(extracted, "startDate"),
		EndDate:     stringField(extracted, "endDate"),
		BudgetTier:  stringField(extracted, "budgetTier"),
		PartySize:   1,
	}
	if n, ok := extracted["partySize"].(float64); ok && n > 0 {
		creation.PartySize = int(n)
	}
	if raw, ok := extracted["interests"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				creation.Interests = append(creation.Interests, s)
			}
		}
	}

	it, err := a.planner.Plan(ctx, req.ItineraryID, req.Owner, creation)
	if err != nil {
		return nil, err
	}
	return &agentregistry.Response{Message: fmt.Sprintf("created a %d-day itinerary for %s", len(it.Days), creation.Destination)}, nil
}

var _ agentregistry.Agent = (*DayByDayPlannerAgent)(nil)
