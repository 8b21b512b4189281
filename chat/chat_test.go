package chat_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/goa-ai/agentregistry"
	"goa.design/goa-ai/change"
	"goa.design/goa-ai/chat"
	"goa.design/goa-ai/eventbus"
	"goa.design/goa-ai/itinagents"
	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/llm"
	"goa.design/goa-ai/store/memory"
)

func newRouter(t *testing.T, defaultResp string) (*chat.Router, *change.Engine, *memory.Store) {
	t.Helper()
	st := memory.New()
	bus := eventbus.New()
	eng := change.New(st, bus)
	mock := llm.NewMockBackend("")
	mock.Default = defaultResp
	gw := llm.NewGateway(mock)

	reg := agentregistry.New()
	reg.MustRegister(itinagents.NewEditorAgent(gw, eng, bus, nil))
	reg.MustRegister(itinagents.NewExplainAgent(gw, eng, bus, nil))
	reg.MustRegister(itinagents.NewBookingAgent(gw, eng, bus, nil))
	reg.MustRegister(itinagents.NewEnrichmentAgent(gw, eng, bus, nil))
	reg.MustRegister(itinagents.NewPlannerAgent(gw, eng, bus, st, nil))

	return chat.New(reg, eng, st, gw, nil), eng, st
}

func seedTwoLunches(t *testing.T, st *memory.Store) {
	t.Helper()
	it := &itinerary.Itinerary{
		ID: "it_1",
		Days: []*itinerary.Day{
			{DayNumber: 1, Date: "2026-10-01", Nodes: []*itinerary.Node{
				{ID: "day1_node2", Title: "Lunch Break", Type: itinerary.NodeTypeMeal},
			}},
			{DayNumber: 2, Date: "2026-10-02", Nodes: []*itinerary.Node{
				{ID: "day2_node2", Title: "Lunch Break", Type: itinerary.NodeTypeMeal},
			}},
		},
	}
	_, err := st.Put(context.Background(), "it_1", it, 0)
	require.NoError(t, err)
}

func TestHandleDisambiguatesAmbiguousNodeReference(t *testing.T) {
	router, _, st := newRouter(t, `{}`)
	seedTwoLunches(t, st)

	resp, err := router.Handle(context.Background(), chat.Request{
		ItineraryID: "it_1",
		ChatText:    "Move lunch to 1pm",
	})
	require.NoError(t, err)
	require.True(t, resp.NeedsDisambiguation)
	require.Len(t, resp.Candidates, 2)
}

func TestHandleRoutesEditWithSelectedNode(t *testing.T) {
	router, _, st := newRouter(t, `{"scope":"day","day":1,"ops":[{"op":"move","id":"day1_node2","startTime":"13:00","endTime":"14:00"}]}`)
	seedTwoLunches(t, st)

	resp, err := router.Handle(context.Background(), chat.Request{
		ItineraryID:    "it_1",
		ChatText:       "Move lunch to 1pm",
		SelectedNodeID: "day1_node2",
		AutoApply:      true,
	})
	require.NoError(t, err)
	require.Equal(t, chat.IntentEdit, resp.Intent)
	require.True(t, resp.Applied)
}

func TestHandleUndoCallsChangeEngineDirectly(t *testing.T) {
	router, eng, st := newRouter(t, `{}`)
	it := &itinerary.Itinerary{
		ID: "it_2",
		Days: []*itinerary.Day{
			{DayNumber: 1, Nodes: []*itinerary.Node{{ID: "day1_node1", Title: "Museum"}}},
		},
	}
	_, err := st.Put(context.Background(), "it_2", it, 0)
	require.NoError(t, err)

	res, err := eng.Apply(context.Background(), "it_2", itinerary.ChangeSet{
		Scope: itinerary.ScopeTrip,
		Ops:   []itinerary.Op{{Kind: itinerary.OpDelete, ID: "day1_node1"}},
	}, itinerary.UpdatedByUser)
	require.NoError(t, err)
	require.Empty(t, res.Itinerary.Days[0].Nodes)

	resp, err := router.Handle(context.Background(), chat.Request{
		ItineraryID: "it_2",
		ChatText:    "undo that",
	})
	require.NoError(t, err)
	require.Equal(t, chat.IntentUndo, resp.Intent)
	require.True(t, resp.Applied)

	restored, _, err := st.Get(context.Background(), "it_2")
	require.NoError(t, err)
	require.Len(t, restored.Days[0].Nodes, 1)
}

func TestHandleExplainIsReadOnly(t *testing.T) {
	router, _, st := newRouter(t, "This museum runs from 9 to 5.")
	it := &itinerary.Itinerary{
		ID: "it_3",
		Days: []*itinerary.Day{
			{DayNumber: 1, Nodes: []*itinerary.Node{{ID: "day1_node1", Title: "Museum"}}},
		},
	}
	_, err := st.Put(context.Background(), "it_3", it, 0)
	require.NoError(t, err)

	resp, err := router.Handle(context.Background(), chat.Request{
		ItineraryID:    "it_3",
		ChatText:       "why should I visit the museum",
		SelectedNodeID: "day1_node1",
	})
	require.NoError(t, err)
	require.Equal(t, chat.IntentExplain, resp.Intent)
	require.False(t, resp.Applied)
	require.NotEmpty(t, resp.Message)
}
