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

func TestActivityAgentPopulatesAttractionPlaceholders(t *testing.T) {
	mock := llm.NewMockBackend("")
	mock.Default = `{"nodes":[{"id":"day1_node2","title":"Belem Tower","address":"Av. Brasilia"}]}`
	gw := llm.NewGateway(mock)

	agent := itinagents.NewActivityAgent(gw, nil, eventbus.New(), nil)
	it := &itinerary.Itinerary{
		ID: "it_1",
		Days: []*itinerary.Day{
			{DayNumber: 1, Nodes: []*itinerary.Node{
				{ID: "day1_node1", Type: itinerary.NodeTypeMeal, Title: "Breakfast"},
				{ID: "day1_node2", Type: itinerary.NodeTypeAttraction, Title: "Morning activity"},
			}},
		},
	}

	cs, err := agent.Populate(context.Background(), it)
	require.NoError(t, err)
	require.Len(t, cs.Ops, 1)
	require.Equal(t, "day1_node2", cs.Ops[0].ID)
	require.Equal(t, "Belem Tower", cs.Ops[0].Node.Title)
}

func TestPlannerAgentPlanPersistsFinalItinerary(t *testing.T) {
	st := memory.New()
	bus := eventbus.New()
	eng := change.New(st, bus)
	mock := llm.NewMockBackend("")
	mock.Default = `{}`
	gw := llm.NewGateway(mock)

	agent := itinagents.NewPlannerAgent(gw, eng, bus, st, nil)
	it, err := agent.Plan(context.Background(), "it_1", "owner_1", itinagents.CreationRequest{
		Destination: "Porto",
		StartDate:   "2026-10-01",
		EndDate:     "2026-10-01",
		PartySize:   2,
	})
	require.NoError(t, err)
	require.Equal(t, "owner_1", it.Owner)

	stored, _, err := st.Get(context.Background(), "it_1")
	require.NoError(t, err)
	require.Equal(t, 1, len(stored.Days))
}

func TestDayByDayPlannerAgentExtractsAndCreates(t *testing.T) {
	st := memory.New()
	bus := eventbus.New()
	eng := change.New(st, bus)
	mock := llm.NewMockBackend("")
	mock.Default = `{"destination":"Porto","startDate":"2026-10-01","endDate":"2026-10-01","partySize":2}`
	gw := llm.NewGateway(mock)

	agent := itinagents.NewDayByDayPlannerAgent(gw, eng, bus, st, nil)
	resp, err := agent.Execute(context.Background(), agentregistry.Request{
		ItineraryID: "it_2",
		Owner:       "owner_2",
		ChatText:    "plan a day in Porto for two",
	})
	require.NoError(t, err)
	require.Contains(t, resp.Message, "Porto")
}

func TestEditorAgentAppliesMoveChangeSet(t *testing.T) {
	st := memory.New()
	bus := eventbus.New()
	eng := change.New(st, bus)
	mock := llm.NewMockBackend("")
	mock.Default = `{"scope":"day","day":1,"ops":[{"op":"move","id":"day1_node1","startTime":"10:00","endTime":"11:00"}]}`
	gw := llm.NewGateway(mock)

	it := &itinerary.Itinerary{
		ID: "it_3",
		Days: []*itinerary.Day{
			{DayNumber: 1, Date: "2026-10-01", Nodes: []*itinerary.Node{
				{ID: "day1_node1", Title: "Museum", Timing: itinerary.Timing{StartTime: "2026-10-01T09:00:00Z", EndTime: "2026-10-01T10:00:00Z"}},
			}},
		},
	}
	_, err := st.Put(context.Background(), "it_3", it, 0)
	require.NoError(t, err)

	agent := itinagents.NewEditorAgent(gw, eng, bus, nil)
	resp, err := agent.Execute(context.Background(), agentregistry.Request{
		ItineraryID: "it_3",
		ChatText:    "move the museum visit to 10am",
		AutoApply:   true,
	})
	require.NoError(t, err)
	require.True(t, resp.Applied)

	stored, _, err := st.Get(context.Background(), "it_3")
	require.NoError(t, err)
	node, _ := stored.NodeByID("day1_node1")
	require.Equal(t, "2026-10-01T10:00:00Z", node.Timing.StartTime)
}

func TestEditorAgentReportsLockedNodeViolation(t *testing.T) {
	st := memory.New()
	bus := eventbus.New()
	eng := change.New(st, bus)
	mock := llm.NewMockBackend("")
	mock.Default = `{"scope":"day","day":1,"ops":[{"op":"delete","id":"day1_node1"}]}`
	gw := llm.NewGateway(mock)

	it := &itinerary.Itinerary{
		ID: "it_4",
		Days: []*itinerary.Day{
			{DayNumber: 1, Date: "2026-10-01", Nodes: []*itinerary.Node{
				{ID: "day1_node1", Title: "Museum", Locked: true},
			}},
		},
	}
	_, err := st.Put(context.Background(), "it_4", it, 0)
	require.NoError(t, err)

	agent := itinagents.NewEditorAgent(gw, eng, bus, nil)
	resp, err := agent.Execute(context.Background(), agentregistry.Request{
		ItineraryID: "it_4",
		ChatText:    "remove the museum visit",
		AutoApply:   true,
	})
	require.NoError(t, err)
	require.False(t, resp.Applied)
	require.Contains(t, resp.Message, "locked node")
}

func TestExplainAgentAnswersFromItineraryContext(t *testing.T) {
	st := memory.New()
	bus := eventbus.New()
	eng := change.New(st, bus)
	mock := llm.NewMockBackend("")
	mock.Default = "This museum visit runs 09:00 to 10:00."
	gw := llm.NewGateway(mock)

	it := &itinerary.Itinerary{
		ID: "it_5",
		Days: []*itinerary.Day{
			{DayNumber: 1, Nodes: []*itinerary.Node{
				{ID: "day1_node1", Title: "Museum", Timing: itinerary.Timing{StartTime: "09:00", EndTime: "10:00"}},
			}},
		},
	}
	_, err := st.Put(context.Background(), "it_5", it, 0)
	require.NoError(t, err)

	agent := itinagents.NewExplainAgent(gw, eng, bus, nil)
	resp, err := agent.Execute(context.Background(), agentregistry.Request{
		ItineraryID:    "it_5",
		SelectedNodeID: "day1_node1",
		ChatText:       "when does this happen?",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Message)
}
