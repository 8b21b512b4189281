package itinagents

import (
	"context"
	"fmt"
	"time"

	"goa.design/goa-ai/agentregistry"
	"goa.design/goa-ai/change"
	"goa.design/goa-ai/eventbus"
	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/llm"
	"goa.design/goa-ai/telemetry"
)

// CreationRequest is the input to SkeletonPlannerAgent and PlannerAgent:
// everything gathered from the caller before generation begins.
type CreationRequest struct {
	Destination string
	StartDate   string // "2026-08-01"
	EndDate     string
	PartySize   int
	BudgetTier  string // "budget" | "midrange" | "luxury"
	Language    string
	Interests   []string
	Constraints []string
}

var skeletonDaySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"nodes": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type":      map[string]any{"type": "string", "enum": []any{"attraction", "meal", "accommodation", "transport"}},
					"title":     map[string]any{"type": "string"},
					"startTime": map[string]any{"type": "string"},
					"endTime":   map[string]any{"type": "string"},
				},
				"required": []any{"type", "title"},
			},
		},
	},
	"required": []any{"nodes"},
}

// SkeletonPlannerAgent generates the initial shell itinerary: one Day per
// calendar date, each populated with placeholder nodes in canonical order.
type SkeletonPlannerAgent struct {
	base
}

// NewSkeletonPlannerAgent constructs the agent. It is pipeline-only
// (chatEnabled=false); the orchestrator invokes it directly in phase 1.
func NewSkeletonPlannerAgent(client llm.Client, eng *change.Engine, bus eventbus.Publisher, logger telemetry.Logger) *SkeletonPlannerAgent {
	return &SkeletonPlannerAgent{base: newBase("SkeletonPlannerAgent", client, eng, bus, logger)}
}

func (a *SkeletonPlannerAgent) Name() string     { return a.base.name }
func (a *SkeletonPlannerAgent) TaskType() string  { return "skeleton" }
func (a *SkeletonPlannerAgent) Priority() int     { return 1 }
func (a *SkeletonPlannerAgent) ChatEnabled() bool { return false }

// Generate builds the full skeleton itinerary for req, one LLM structured
// call per calendar day. It does not persist; the orchestrator is
// responsible for the initial Put.
func (a *SkeletonPlannerAgent) Generate(ctx context.Context, itineraryID string, req CreationRequest) (*itinerary.Itinerary, error) {
	a.progress(ctx, itineraryID, "pipeline", "running", 0, "planning skeleton")

	dates, err := dateRange(req.StartDate, req.EndDate)
	if err != nil {
		a.progress(ctx, itineraryID, "pipeline", "failed", 0, err.Error())
		return nil, err
	}

	it := &itinerary.Itinerary{
		ID:        itineraryID,
		Owner:     "", // set by caller
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	for i, date := range dates {
		dayNumber := i + 1
		isLast := i == len(dates)-1
		nodes, err := a.planDay(ctx, itineraryID, req, dayNumber, date, isLast)
		if err != nil {
			a.progress(ctx, itineraryID, "pipeline", "failed", 0, err.Error())
			return nil, err
		}
		it.Days = append(it.Days, &itinerary.Day{
			DayNumber: dayNumber,
			Date:      date,
			Nodes:     nodes,
			Edges:     chainEdges(nodes),
		})
		pct := 25 * (i + 1) / len(dates)
		a.progress(ctx, itineraryID, "pipeline", "running", pct, fmt.Sprintf("planned day %d/%d", dayNumber, len(dates)))
	}

	a.progress(ctx, itineraryID, "pipeline", "succeeded", 25, "skeleton complete")
	return it, nil
}

// canonicalOrder lists the placeholder node types for a regular day.
var canonicalOrder = []struct {
	nodeType itinerary.NodeType
	title    string
}{
	{itinerary.NodeTypeMeal, "Breakfast"},
	{itinerary.NodeTypeAttraction, "Morning activity"},
	{itinerary.NodeTypeMeal, "Lunch"},
	{itinerary.NodeTypeAttraction, "Afternoon activity"},
	{itinerary.NodeTypeMeal, "Dinner"},
	{itinerary.NodeTypeAccommodation, "Overnight stay"},
}

func (a *SkeletonPlannerAgent) planDay(ctx context.Context, itineraryID string, req CreationRequest, dayNumber int, date string, isLast bool) ([]*itinerary.Node, error) {
	system := "You are a travel planner producing a single day's placeholder schedule. " +
		"Return JSON matching the schema exactly: an ordered list of nodes covering breakfast, " +
		"a morning attraction, lunch, an afternoon attraction, dinner, and an overnight stay, " +
		"in that order. Use HH:mm times."
	user := fmt.Sprintf("Destination: %s\nDate: %s (day %d)\nParty size: %d\nBudget tier: %s\nInterests: %v\nConstraints: %v",
		req.Destination, date, dayNumber, req.PartySize, req.BudgetTier, req.Interests, req.Constraints)
	if isLast {
		user += "\nThis is the final day: insert a transport node before checkout for departure."
	}

	result, err := a.llm.GenerateStructured(ctx, llm.StructuredRequest{
		SystemPrompt: system,
		UserPrompt:   user,
		ItineraryID:  itineraryID,
		JSONSchema:   skeletonDaySchema,
	})
	if err != nil {
		return fallbackDay(dayNumber, isLast), nil
	}

	rawNodes, _ := result["nodes"].([]any)
	var nodes []*itinerary.Node
	seq := 0
	for _, rn := range rawNodes {
		m, ok := rn.(map[string]any)
		if !ok {
			continue
		}
		seq++
		nodes = append(nodes, &itinerary.Node{
			ID:     fmt.Sprintf("day%d_node%d", dayNumber, seq),
			Type:   itinerary.NodeType(stringField(m, "type")),
			Title:  stringField(m, "title"),
			Status: itinerary.StatusPlanned,
			Timing: itinerary.Timing{
				StartTime: normalizeClock(stringField(m, "startTime"), date),
				EndTime:   normalizeClock(stringField(m, "endTime"), date),
			},
		})
	}
	if len(nodes) == 0 {
		return fallbackDay(dayNumber, isLast), nil
	}
	return nodes, nil
}

// fallbackDay produces the canonical placeholder sequence when the LLM call
// fails or mock mode yields no usable response, so skeleton generation never
// aborts on a single day's structured-output miss.
func fallbackDay(dayNumber int, isLast bool) []*itinerary.Node {
	order := canonicalOrder
	var nodes []*itinerary.Node
	for i, entry := range order {
		nodes = append(nodes, &itinerary.Node{
			ID:     fmt.Sprintf("day%d_node%d", dayNumber, i+1),
			Type:   entry.nodeType,
			Title:  entry.title,
			Status: itinerary.StatusPlanned,
		})
	}
	if isLast {
		nodes = append(nodes, &itinerary.Node{
			ID:     fmt.Sprintf("day%d_node%d", dayNumber, len(order)+1),
			Type:   itinerary.NodeTypeTransport,
			Title:  "Departure transfer",
			Status: itinerary.StatusPlanned,
		})
	}
	return nodes
}

func chainEdges(nodes []*itinerary.Node) []*itinerary.Edge {
	var edges []*itinerary.Edge
	for i := 1; i < len(nodes); i++ {
		edges = append(edges, &itinerary.Edge{From: nodes[i-1].ID, To: nodes[i].ID})
	}
	return edges
}

func dateRange(start, end string) ([]string, error) {
	s, err := time.Parse("2006-01-02", start)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	e, err := time.Parse("2006-01-02", end)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	if e.Before(s) {
		return nil, fmt.Errorf("end date %q precedes start date %q", end, start)
	}
	var out []string
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format("2006-01-02"))
	}
	return out, nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func normalizeClock(value, date string) string {
	if value == "" {
		return ""
	}
	if len(value) > 5 {
		return value
	}
	return date + "T" + value + ":00Z"
}

// Execute adapts the registry's generic Agent contract to Generate. The
// orchestrator calls Generate directly for phase 1; Execute exists so
// SkeletonPlannerAgent satisfies agentregistry.Agent for registration and
// for callers that only hold the interface.
func (a *SkeletonPlannerAgent) Execute(ctx context.Context, req agentregistry.Request) (*agentregistry.Response, error) {
	creation, ok := req.Params["creationRequest"].(CreationRequest)
	if !ok {
		return nil, fmt.Errorf("itinagents: SkeletonPlannerAgent requires params[\"creationRequest\"]")
	}
	it, err := a.Generate(ctx, req.ItineraryID, creation)
	if err != nil {
		return nil, err
	}
	return &agentregistry.Response{Message: fmt.Sprintf("generated %d days", len(it.Days))}, nil
}

var _ agentregistry.Agent = (*SkeletonPlannerAgent)(nil)
