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

// CostEstimatorAgent sums node costs into per-day and trip totals. Pure
// computation; no LLM calls.
type CostEstimatorAgent struct {
	base
}

// NewCostEstimatorAgent constructs the agent.
func NewCostEstimatorAgent(client llm.Client, eng *change.Engine, bus eventbus.Publisher, logger telemetry.Logger) *CostEstimatorAgent {
	return &CostEstimatorAgent{base: newBase("CostEstimatorAgent", client, eng, bus, logger)}
}

func (a *CostEstimatorAgent) Name() string     { return a.base.name }
func (a *CostEstimatorAgent) TaskType() string  { return "estimate_costs" }
func (a *CostEstimatorAgent) Priority() int     { return 50 }
func (a *CostEstimatorAgent) ChatEnabled() bool { return false }

func perPersonCost(c itinerary.Cost, partySize int) float64 {
	switch c.Per {
	case "group", "night":
		return c.Amount / float64(partySize)
	default: // "person" or unset
		return c.Amount
	}
}

func roundCents(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// ApplyTotals recomputes and writes day/trip totals directly on it (the
// caller's clone), returning the trip total. Unlike other agents,
// CostEstimatorAgent's output is aggregate scalars rather than discrete node
// ops, so it mutates the document directly instead of emitting a ChangeSet.
func (a *CostEstimatorAgent) ApplyTotals(it *itinerary.Itinerary, partySize int) float64 {
	if partySize < 1 {
		partySize = 1
	}
	var tripTotal float64
	for _, d := range it.Days {
		var dayTotal float64
		for _, n := range d.Nodes {
			dayTotal += perPersonCost(n.Cost, partySize)
		}
		d.Totals.Cost = roundCents(dayTotal)
		tripTotal += d.Totals.Cost
	}
	it.TotalCost = roundCents(tripTotal)
	return it.TotalCost
}

func (a *CostEstimatorAgent) Execute(ctx context.Context, req agentregistry.Request) (*agentregistry.Response, error) {
	it, ok := req.Params["itinerary"].(*itinerary.Itinerary)
	if !ok {
		return nil, fmt.Errorf("itinagents: CostEstimatorAgent requires params[\"itinerary\"]")
	}
	partySize, _ := req.Params["partySize"].(int)
	a.progress(ctx, it.ID, "pipeline", "running", 85, "estimating costs")
	total := a.ApplyTotals(it, partySize)
	a.progress(ctx, it.ID, "pipeline", "succeeded", 95, fmt.Sprintf("total cost %.2f", total))
	return &agentregistry.Response{Message: fmt.Sprintf("total cost %.2f", total)}, nil
}

var _ agentregistry.Agent = (*CostEstimatorAgent)(nil)
