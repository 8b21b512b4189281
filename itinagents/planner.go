package itinagents

import (
	"context"
	"fmt"

	"goa.design/goa-ai/agentregistry"
	"goa.design/goa-ai/change"
	"goa.design/goa-ai/eventbus"
	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/llm"
	"goa.design/goa-ai/store"
	"goa.design/goa-ai/telemetry"
)

// PlannerAgent runs the full generation pipeline synchronously for callers
// that need a result in hand rather than a streamed, async build (e.g. a
// CLI or batch import). It is not chat-enabled; the orchestrator's async
// five-phase pipeline is the primary path for interactive creation.
type PlannerAgent struct {
	base
	skeleton   *SkeletonPlannerAgent
	activity   *ActivityAgent
	meal       *MealAgent
	transport  *TransportAgent
	enrichment *EnrichmentAgent
	cost       *CostEstimatorAgent
	store      store.Store
}

// NewPlannerAgent constructs the agent, wiring the same sub-agents the
// orchestrator's async pipeline uses so both paths share identical
// generation logic.
func NewPlannerAgent(client llm.Client, eng *change.Engine, bus eventbus.Publisher, st store.Store, logger telemetry.Logger) *PlannerAgent {
	return &PlannerAgent{
		base:       newBase("PlannerAgent", client, eng, bus, logger),
		skeleton:   NewSkeletonPlannerAgent(client, eng, bus, logger),
		activity:   NewActivityAgent(client, eng, bus, logger),
		meal:       NewMealAgent(client, eng, bus, logger),
		transport:  NewTransportAgent(client, eng, bus, logger),
		enrichment: NewEnrichmentAgent(client, eng, bus, logger),
		cost:       NewCostEstimatorAgent(client, eng, bus, logger),
		store:      st,
	}
}

func (a *PlannerAgent) Name() string     { return a.base.name }
func (a *PlannerAgent) TaskType() string  { return "create" }
func (a *PlannerAgent) Priority() int     { return 2 }
func (a *PlannerAgent) ChatEnabled() bool { return false }

// Plan runs skeleton, population, enrichment, and cost estimation in
// sequence (no concurrency: this path optimizes for a single synchronous
// return rather than progress fan-out) and persists the final document.
func (a *PlannerAgent) Plan(ctx context.Context, itineraryID, owner string, req CreationRequest) (*itinerary.Itinerary, error) {
	it, err := a.skeleton.Generate(ctx, itineraryID, req)
	if err != nil {
		return nil, fmt.Errorf("itinagents: skeleton phase failed: %w", err)
	}
	it.Owner = owner

	if _, err := a.store.Put(ctx, itineraryID, it, 0); err != nil {
		return nil, fmt.Errorf("itinagents: persisting skeleton failed: %w", err)
	}

	for _, step := range []func(context.Context, *itinerary.Itinerary) (itinerary.ChangeSet, error){
		a.activity.Populate, a.meal.Populate, a.transport.Populate,
	} {
		cs, err := step(ctx, it)
		if err != nil {
			continue // population failures are isolated per spec phase 2 semantics
		}
		if len(cs.Ops) == 0 {
			continue
		}
		res, err := a.change.Apply(ctx, itineraryID, cs, itinerary.UpdatedByAgent)
		if err != nil {
			continue
		}
		it = res.Itinerary
	}

	enrichCS := a.enrichment.Enrich(itineraryID, it)
	if len(enrichCS.Ops) > 0 {
		if res, err := a.change.Apply(ctx, itineraryID, enrichCS, itinerary.UpdatedByAgent); err == nil {
			it = res.Itinerary
		}
	}

	a.cost.ApplyTotals(it, req.PartySize)
	_, version, err := a.store.Get(ctx, itineraryID)
	if err != nil {
		return nil, fmt.Errorf("itinagents: reloading before final persist failed: %w", err)
	}
	if _, err := a.store.Put(ctx, itineraryID, it, version); err != nil {
		return nil, fmt.Errorf("itinagents: persisting final totals failed: %w", err)
	}

	return it, nil
}

func (a *PlannerAgent) Execute(ctx context.Context, req agentregistry.Request) (*agentregistry.Response, error) {
	creation, ok := req.Params["creationRequest"].(CreationRequest)
	if !ok {
		return nil, fmt.Errorf("itinagents: PlannerAgent requires params[\"creationRequest\"]")
	}
	it, err := a.Plan(ctx, req.ItineraryID, req.Owner, creation)
	if err != nil {
		return nil, err
	}
	return &agentregistry.Response{Message: fmt.Sprintf("generated itinerary with %d days", len(it.Days))}, nil
}

var _ agentregistry.Agent = (*PlannerAgent)(nil)
