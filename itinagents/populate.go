package itinagents

import (
	"context"
	"fmt"

	"goa.design/goa-ai/agentregistry"
	"goa.design/goa-ai/change"
	"goa.design/goa-ai/eventbus"
	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/llm"
	"goa.design/goa-ai/telemetry"
)

// populateAgent is the shared implementation behind ActivityAgent, MealAgent,
// and TransportAgent: each scans every placeholder of its NodeType across
// the skeleton, asks the LLM to fill them in with one structured call, and
// applies the result as a single change-set of replace ops.
type populateAgent struct {
	base
	taskType string
	nodeType itinerary.NodeType
}

var populateSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"nodes": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":        map[string]any{"type": "string"},
					"title":     map[string]any{"type": "string"},
					"address":   map[string]any{"type": "string"},
					"costAmount": map[string]any{"type": "number"},
					"costPer":   map[string]any{"type": "string"},
					"details":   map[string]any{"type": "string"},
				},
				"required": []any{"id", "title"},
			},
		},
	},
	"required": []any{"nodes"},
}

func (p *populateAgent) TaskType() string  { return p.taskType }
func (p *populateAgent) ChatEnabled() bool { return false }

// Populate fills every placeholder of nodeType in it, returning the
// replace-op change-set to apply. It never mutates it directly.
func (p *populateAgent) Populate(ctx context.Context, it *itinerary.Itinerary) (itinerary.ChangeSet, error) {
	p.progress(ctx, it.ID, "pipeline", "running", 0, "populating "+string(p.nodeType))

	var placeholders []*itinerary.Node
	for _, d := range it.Days {
		for _, n := range d.Nodes {
			if n.Type == p.nodeType {
				placeholders = append(placeholders, n)
			}
		}
	}
	if len(placeholders) == 0 {
		p.progress(ctx, it.ID, "pipeline", "succeeded", 100, "nothing to populate")
		return itinerary.ChangeSet{Scope: itinerary.ScopeTrip}, nil
	}

	var listing string
	for _, n := range placeholders {
		listing += fmt.Sprintf("- id=%s title=%q\n", n.ID, n.Title)
	}

	system := fmt.Sprintf("You are filling in real-world %s suggestions for an itinerary. "+
		"Return JSON matching the schema exactly, one entry per input id, preserving the id field unchanged.", p.nodeType)
	user := fmt.Sprintf("Destination context: %s\nPlaceholders:\n%s", it.Summary, listing)

	result, err := p.llm.GenerateStructured(ctx, llm.StructuredRequest{
		SystemPrompt: system,
		UserPrompt:   user,
		ItineraryID:  it.ID,
		JSONSchema:   populateSchema,
	})
	if err != nil {
		p.progress(ctx, it.ID, "pipeline", "failed", 0, err.Error())
		return itinerary.ChangeSet{}, err
	}

	byID := make(map[string]map[string]any)
	if rawNodes, ok := result["nodes"].([]any); ok {
		for _, rn := range rawNodes {
			if m, ok := rn.(map[string]any); ok {
				if id := stringField(m, "id"); id != "" {
					byID[id] = m
				}
			}
		}
	}

	cs := itinerary.ChangeSet{Scope: itinerary.ScopeTrip}
	for _, n := range placeholders {
		m, ok := byID[n.ID]
		if !ok {
			continue
		}
		replacement := n.Clone()
		replacement.Title = orDefault(stringField(m, "title"), n.Title)
		replacement.Location.Address = stringField(m, "address")
		if amount, ok := m["costAmount"].(float64); ok {
			replacement.Cost.Amount = amount
		}
		replacement.Cost.Per = stringField(m, "costPer")
		if details := stringField(m, "details"); details != "" {
			if replacement.Details == nil {
				replacement.Details = map[string]any{}
			}
			replacement.Details["notes"] = details
		}
		replacement.Status = itinerary.StatusPlanned
		cs.Ops = append(cs.Ops, itinerary.Op{Kind: itinerary.OpReplace, ID: n.ID, Node: replacement})
	}

	p.progress(ctx, it.ID, "pipeline", "succeeded", 100, fmt.Sprintf("populated %d nodes", len(cs.Ops)))
	return cs, nil
}

func (p *populateAgent) Execute(ctx context.Context, req agentregistry.Request) (*agentregistry.Response, error) {
	it, ok := req.Params["itinerary"].(*itinerary.Itinerary)
	if !ok {
		return nil, fmt.Errorf("itinagents: %s requires params[\"itinerary\"]", p.name)
	}
	cs, err := p.Populate(ctx, it)
	if err != nil {
		return nil, err
	}
	return p.applyChangeSet(ctx, it.ID, cs, itinerary.UpdatedByAgent, true)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// ActivityAgent populates attraction placeholders.
type ActivityAgent struct{ populateAgent }

// NewActivityAgent constructs the agent.
func NewActivityAgent(client llm.Client, eng *change.Engine, bus eventbus.Publisher, logger telemetry.Logger) *ActivityAgent {
	return &ActivityAgent{populateAgent{
		base:     newBase("ActivityAgent", client, eng, bus, logger),
		taskType: "populate_attractions",
		nodeType: itinerary.NodeTypeAttraction,
	}}
}

func (a *ActivityAgent) Name() string { return a.base.name }
func (a *ActivityAgent) Priority() int { return 10 }

var _ agentregistry.Agent = (*ActivityAgent)(nil)

// MealAgent populates meal placeholders.
type MealAgent struct{ populateAgent }

// NewMealAgent constructs the agent.
func NewMealAgent(client llm.Client, eng *change.Engine, bus eventbus.Publisher, logger telemetry.Logger) *MealAgent {
	return &MealAgent{populateAgent{
		base:     newBase("MealAgent", client, eng, bus, logger),
		taskType: "populate_meals",
		nodeType: itinerary.NodeTypeMeal,
	}}
}

func (a *MealAgent) Name() string  { return a.base.name }
func (a *MealAgent) Priority() int { return 10 }

var _ agentregistry.Agent = (*MealAgent)(nil)

// TransportAgent populates transport placeholders.
type TransportAgent struct{ populateAgent }

// NewTransportAgent constructs the agent.
func NewTransportAgent(client llm.Client, eng *change.Engine, bus eventbus.Publisher, logger telemetry.Logger) *TransportAgent {
	return &TransportAgent{populateAgent{
		base:     newBase("TransportAgent", client, eng, bus, logger),
		taskType: "populate_transport",
		nodeType: itinerary.NodeTypeTransport,
	}}
}

func (a *TransportAgent) Name() string  { return a.base.name }
func (a *TransportAgent) Priority() int { return 10 }

var _ agentregistry.Agent = (*TransportAgent)(nil)
