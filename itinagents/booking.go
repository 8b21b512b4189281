package itinagents

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"goa.design/goa-ai/agentregistry"
	"goa.design/goa-ai/change"
	"goa.design/goa-ai/eventbus"
	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/llm"
	"goa.design/goa-ai/telemetry"
)

// BookingAgent locks a node and records a booking reference. It never calls
// the LLM: the change is a single deterministic replace op.
type BookingAgent struct {
	base
}

// NewBookingAgent constructs the agent.
func NewBookingAgent(client llm.Client, eng *change.Engine, bus eventbus.Publisher, logger telemetry.Logger) *BookingAgent {
	return &BookingAgent{base: newBase("BookingAgent", client, eng, bus, logger)}
}

func (a *BookingAgent) Name() string     { return a.base.name }
func (a *BookingAgent) TaskType() string  { return "book" }
func (a *BookingAgent) Priority() int     { return 30 }
func (a *BookingAgent) ChatEnabled() bool { return true }

func (a *BookingAgent) Execute(ctx context.Context, req agentregistry.Request) (*agentregistry.Response, error) {
	nodeID := req.SelectedNodeID
	if nodeID == "" {
		return nil, fmt.Errorf("itinagents: BookingAgent requires a selected node")
	}

	a.progress(ctx, req.ItineraryID, "chat", "running", 0, "booking")

	proposed, err := a.change.Propose(ctx, req.ItineraryID, itinerary.ChangeSet{})
	if err != nil {
		a.progress(ctx, req.ItineraryID, "chat", "failed", 0, err.Error())
		return nil, err
	}
	existing, _ := proposed.Itinerary.NodeByID(nodeID)
	if existing == nil {
		err := fmt.Errorf("itinagents: node %q does not exist", nodeID)
		a.progress(ctx, req.ItineraryID, "chat", "failed", 0, err.Error())
		return nil, err
	}

	replacement := existing.Clone()
	replacement.Locked = true
	replacement.Labels = append(replacement.Labels, itinerary.LabelBooked)
	replacement.BookingRef = generateBookingRef()

	cs := itinerary.ChangeSet{Scope: itinerary.ScopeTrip, Ops: []itinerary.Op{
		{Kind: itinerary.OpReplace, ID: nodeID, Node: replacement},
	}}

	resp, err := a.applyChangeSet(ctx, req.ItineraryID, cs, itinerary.UpdatedByUser, true)
	if err != nil {
		a.progress(ctx, req.ItineraryID, "chat", "failed", 0, err.Error())
		return nil, err
	}

	a.progress(ctx, req.ItineraryID, "chat", "succeeded", 100, "booked")
	resp.Message = fmt.Sprintf("booked %s (ref %s)", nodeID, replacement.BookingRef)
	return resp, nil
}

func generateBookingRef() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return "bkg_" + hex.EncodeToString(buf)
}

var _ agentregistry.Agent = (*BookingAgent)(nil)
