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

// ExplainAgent answers questions about an existing node or day. It is
// read-only: it never proposes or applies a change-set.
type ExplainAgent struct {
	base
}

// NewExplainAgent constructs the agent.
func NewExplainAgent(client llm.Client, eng *change.Engine, bus eventbus.Publisher, logger telemetry.Logger) *ExplainAgent {
	return &ExplainAgent{base: newBase("ExplainAgent", client, eng, bus, logger)}
}

func (a *ExplainAgent) Name() string     { return a.base.name }
func (a *ExplainAgent) TaskType() string  { return "explain" }
func (a *ExplainAgent) Priority() int     { return 15 }
func (a *ExplainAgent) ChatEnabled() bool { return true }

func (a *ExplainAgent) Execute(ctx context.Context, req agentregistry.Request) (*agentregistry.Response, error) {
	a.progress(ctx, req.ItineraryID, "chat", "running", 0, "explaining")

	proposed, err := a.change.Propose(ctx, req.ItineraryID, itinerary.ChangeSet{})
	if err != nil {
		a.progress(ctx, req.ItineraryID, "chat", "failed", 0, err.Error())
		return nil, err
	}

	subject := summarizeSubject(proposed.Itinerary, req)

	text, err := a.llm.GenerateText(ctx, llm.TextRequest{
		SystemPrompt: "You answer a traveler's question about their itinerary, using only the facts provided. Be concise.",
		UserPrompt:   fmt.Sprintf("Context:\n%s\n\nQuestion: %s", subject, req.ChatText),
		ItineraryID:  req.ItineraryID,
	})
	if err != nil {
		a.progress(ctx, req.ItineraryID, "chat", "failed", 0, err.Error())
		return nil, err
	}

	a.progress(ctx, req.ItineraryID, "chat", "succeeded", 100, "explained")
	return &agentregistry.Response{Message: text}, nil
}

func summarizeSubject(it *itinerary.Itinerary, req agentregistry.Request) string {
	if req.SelectedNodeID != "" {
		if n, d := it.NodeByID(req.SelectedNodeID); n != nil {
			return fmt.Sprintf("Node %s (%s) on day %d, %s-%s, cost %.2f %s.",
				n.Title, n.Type, d.DayNumber, n.Timing.StartTime, n.Timing.EndTime, n.Cost.Amount, n.Cost.Currency)
		}
	}
	if req.Day != nil {
		if d := it.DayByNumber(*req.Day); d != nil {
			var titles []string
			for _, n := range d.Nodes {
				titles = append(titles, n.Title)
			}
			return fmt.Sprintf("Day %d (%s): %v. Pacing: %s.", d.DayNumber, d.Date, titles, d.Pacing)
		}
	}
	return fmt.Sprintf("Trip %q with %d days, total cost %.2f %s.", it.Summary, len(it.Days), it.TotalCost, it.Currency)
}

var _ agentregistry.Agent = (*ExplainAgent)(nil)
