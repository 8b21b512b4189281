package itinagents_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/goa-ai/agentregistry"
	"goa.design/goa-ai/change"
	"goa.design/goa-ai/eventbus"
	"goa.design/goa-ai/itinagents"
	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/llm"
	"goa.design/goa-ai/store/memory"
)

func newGateway() *llm.Gateway {
	mock := llm.NewMockBackend("")
	mock.Default = `{}`
	return llm.NewGateway(mock)
}

func requestWithNode(itineraryID, nodeID string) agentregistry.Request {
	return agentregistry.Request{ItineraryID: itineraryID, SelectedNodeID: nodeID, AutoApply: true}
}

func TestSkeletonPlannerAgentFallsBackWhenMockYieldsNoNodes(t *testing.T) {
	gw := newGateway()
	st := memory.New()
	eng := change.New(st, eventbus.New())
	agent := itinagents.NewSkeletonPlannerAgent(gw, eng, eventbus.New(), nil)

	it, err := agent.Generate(context.Background(), "it_1", itinagents.CreationRequest{
		Destination: "Lisbon",
		StartDate:   "2026-09-01",
		EndDate:     "2026-09-02",
		PartySize:   2,
	})
	require.NoError(t, err)
	require.Len(t, it.Days, 2)
	require.Equal(t, "day1_node1", it.Days[0].Nodes[0].ID)
	require.NotEmpty(t, it.Days[0].Edges)
}

func TestCostEstimatorAgentNormalizesGroupCostByPartySize(t *testing.T) {
	gw := newGateway()
	agent := itinagents.NewCostEstimatorAgent(gw, nil, eventbus.New(), nil)
	it := &itinerary.Itinerary{
		Days: []*itinerary.Day{
			{
				DayNumber: 1,
				Nodes: []*itinerary.Node{
					{ID: "a", Cost: itinerary.Cost{Amount: 100, Per: "group"}},
					{ID: "b", Cost: itinerary.Cost{Amount: 20, Per: "person"}},
				},
			},
		},
	}

	total := agent.ApplyTotals(it, 4)
	require.InDelta(t, 45.0, total, 0.01) // 100/4 + 20
	require.InDelta(t, 45.0, it.Days[0].Totals.Cost, 0.01)
}

func TestEnrichmentAgentFlagsClosedNode(t *testing.T) {
	gw := newGateway()
	agent := itinagents.NewEnrichmentAgent(gw, nil, eventbus.New(), nil)
	it := &itinerary.Itinerary{
		Days: []*itinerary.Day{
			{
				DayNumber: 1,
				Nodes: []*itinerary.Node{
					{
						ID:      "day1_node1",
						Timing:  itinerary.Timing{StartTime: "2026-09-01T22:00:00Z"},
						Details: map[string]any{"openingHours": "09:00-18:00"},
					},
				},
			},
		},
	}

	cs := agent.Enrich("it_1", it)
	require.Len(t, cs.Ops, 2)
	require.Equal(t, itinerary.OpReplace, cs.Ops[0].Kind)
	require.Equal(t, "closed at requested time", cs.Ops[0].Node.Details["warning"])
	require.Equal(t, itinerary.OpEdges, cs.Ops[1].Kind)
	require.Equal(t, 1, cs.Ops[1].Day)
}

func TestEnrichmentAgentFillsTransitAndPersistsViaEdgesOp(t *testing.T) {
	st := memory.New()
	bus := eventbus.New()
	eng := change.New(st, bus)
	gw := newGateway()
	agent := itinagents.NewEnrichmentAgent(gw, eng, bus, nil)

	it := &itinerary.Itinerary{
		ID: "it_2",
		Days: []*itinerary.Day{
			{
				DayNumber: 1,
				Nodes: []*itinerary.Node{
					{ID: "day1_node1", Title: "Hotel", Location: itinerary.NodeLocation{Coordinates: &itinerary.Coordinates{Lat: 38.7223, Lng: -9.1393}}},
					{ID: "day1_node2", Title: "Museum", Location: itinerary.NodeLocation{Coordinates: &itinerary.Coordinates{Lat: 38.7139, Lng: -9.1394}}},
				},
				Edges: []*itinerary.Edge{{From: "day1_node1", To: "day1_node2"}},
			},
		},
	}
	_, err := st.Put(context.Background(), "it_2", it, 0)
	require.NoError(t, err)

	resp, err := agent.Execute(context.Background(), agentregistry.Request{ItineraryID: "it_2", Params: map[string]any{"itinerary": it}})
	require.NoError(t, err)
	require.True(t, resp.Applied)

	persisted, _, err := st.Get(context.Background(), "it_2")
	require.NoError(t, err)
	edge := persisted.Days[0].Edges[0]
	require.Greater(t, edge.Transit.DurationMin, 0)
	require.NotNil(t, edge.Transit.DistanceKm)
}

func TestBookingAgentLocksNodeAndSetsBookingRef(t *testing.T) {
	st := memory.New()
	bus := eventbus.New()
	eng := change.New(st, bus)
	gw := newGateway()
	booking := itinagents.NewBookingAgent(gw, eng, bus, nil)

	it := &itinerary.Itinerary{
		ID: "it_1",
		Days: []*itinerary.Day{
			{DayNumber: 1, Nodes: []*itinerary.Node{{ID: "day1_node1", Title: "Museum"}}},
		},
	}
	_, err := st.Put(context.Background(), "it_1", it, 0)
	require.NoError(t, err)

	resp, err := booking.Execute(context.Background(), requestWithNode("it_1", "day1_node1"))
	require.NoError(t, err)
	require.True(t, resp.Applied)

	updated, _, err := st.Get(context.Background(), "it_1")
	require.NoError(t, err)
	node, _ := updated.NodeByID("day1_node1")
	require.True(t, node.Locked)
	require.Contains(t, node.Labels, itinerary.LabelBooked)
	require.NotEmpty(t, node.BookingRef)
}
