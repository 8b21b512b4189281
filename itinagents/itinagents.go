// Package itinagents implements the twelve concrete agents of the itinerary
// engine's capability table: the pipeline agents invoked by the
// orchestrator and the chat-enabled agents invoked by the chat router. Each
// agent is a thin wrapper over the LLM Gateway and the Change Engine,
// emitting AgentProgressEvents as it works.
package itinagents

import (
	"context"
	"time"

	"goa.design/goa-ai/agentregistry"
	"goa.design/goa-ai/change"
	"goa.design/goa-ai/eventbus"
	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/llm"
	"goa.design/goa-ai/telemetry"
)

// base carries the dependencies common to every agent: the LLM Gateway, the
// Change Engine, and the progress publisher.
type base struct {
	name   string
	llm    llm.Client
	change *change.Engine
	bus    eventbus.Publisher
	logger telemetry.Logger
}

func newBase(name string, client llm.Client, eng *change.Engine, bus eventbus.Publisher, logger telemetry.Logger) base {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return base{name: name, llm: client, change: eng, bus: bus, logger: logger}
}

func (b base) progress(ctx context.Context, itineraryID string, kind string, status string, pct int, message string) {
	p := pct
	evt := itinerary.AgentProgressEvent{
		ItineraryID: itineraryID,
		AgentID:     b.name,
		Kind:        kind,
		Status:      status,
		Progress:    &p,
		Message:     message,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := b.bus.PublishProgress(ctx, evt); err != nil {
		b.logger.Warn(ctx, "itinagents: publish progress failed", "agent", b.name, "error", err)
	}
}

// applyChangeSet routes through the Change Engine: callers pass whether
// autoApply is in force (pipeline agents always apply; chat-enabled agents
// honor the caller's preference).
func (b base) applyChangeSet(ctx context.Context, itineraryID string, cs itinerary.ChangeSet, author string, autoApply bool) (*agentregistry.Response, error) {
	if !autoApply {
		res, err := b.change.Propose(ctx, itineraryID, cs)
		if err != nil {
			return nil, err
		}
		return &agentregistry.Response{ChangeSet: &cs, Diff: &res.Diff, Applied: false}, nil
	}

	res, err := b.change.Apply(ctx, itineraryID, cs, author)
	if err != nil {
		return nil, err
	}
	toVersion := res.ToVersion
	return &agentregistry.Response{ChangeSet: &cs, Diff: &res.Diff, ToVersion: &toVersion, Applied: true}, nil
}
