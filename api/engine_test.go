package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/goa-ai/api"
	"goa.design/goa-ai/chat"
	"goa.design/goa-ai/config"
	"goa.design/goa-ai/itinagents"
	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/llm"
)

type mockCompleter struct {
	text string
}

func (m *mockCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string, opts llm.CompletionOptions) (string, llm.FinishReason, error) {
	return m.text, llm.FinishStop, nil
}

func newEngine(t *testing.T) *api.Engine {
	t.Helper()
	return api.New(config.Config{LLM: config.LLM{MockMode: true}}, &mockCompleter{text: "{}"}, nil, nil)
}

func TestEngineCreateAndGetItinerary(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	created, err := eng.CreateItinerary(ctx, "owner_1", itinagents.CreationRequest{
		Destination: "Lisbon",
		StartDate:   "2026-09-01",
		EndDate:     "2026-09-01",
		PartySize:   2,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "generating", created.Status)

	deadline := time.Now().Add(2 * time.Second)
	var metas []itinerary.TripMetadata
	for time.Now().Before(deadline) {
		metas, err = eng.ListItineraries(ctx, "owner_1")
		require.NoError(t, err)
		if len(metas) == 1 && metas[0].Status != "generating" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Len(t, metas, 1)
	require.Equal(t, "ready", metas[0].Status)

	it, err := eng.GetItinerary(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, it.ID)
}

func TestEngineProposeApplyUndo(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	created, err := eng.CreateItinerary(ctx, "owner_2", itinagents.CreationRequest{
		Destination: "Porto",
		StartDate:   "2026-09-01",
		EndDate:     "2026-09-01",
		PartySize:   1,
	})
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	var it *itinerary.Itinerary
	for time.Now().Before(deadline) {
		it, err = eng.GetItinerary(ctx, created.ID)
		require.NoError(t, err)
		if len(it.Days) > 0 && len(it.Days[0].Nodes) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotEmpty(t, it.Days)
	require.NotEmpty(t, it.Days[0].Nodes)
	nodeID := it.Days[0].Nodes[0].ID

	cs := itinerary.ChangeSet{
		Scope: itinerary.ScopeTrip,
		Ops:   []itinerary.Op{{Kind: itinerary.OpDelete, ID: nodeID}},
	}

	proposed, err := eng.ProposeChange(ctx, created.ID, cs)
	require.NoError(t, err)
	require.NotNil(t, proposed.Proposed)

	applied, err := eng.ApplyChange(ctx, created.ID, cs, itinerary.UpdatedByUser)
	require.NoError(t, err)
	require.Greater(t, applied.ToVersion, 0)

	after, err := eng.GetItinerary(ctx, created.ID)
	require.NoError(t, err)
	for _, n := range after.Days[0].Nodes {
		require.NotEqual(t, nodeID, n.ID)
	}

	undone, err := eng.Undo(ctx, created.ID, nil)
	require.NoError(t, err)
	require.Greater(t, undone.ToVersion, 0)

	restored, err := eng.GetItinerary(ctx, created.ID)
	require.NoError(t, err)
	found := false
	for _, n := range restored.Days[0].Nodes {
		if n.ID == nodeID {
			found = true
		}
	}
	require.True(t, found)
}

func TestEngineBookLocksNode(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	created, err := eng.CreateItinerary(ctx, "owner_3", itinagents.CreationRequest{
		Destination: "Seville",
		StartDate:   "2026-09-01",
		EndDate:     "2026-09-01",
		PartySize:   1,
	})
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	var it *itinerary.Itinerary
	for time.Now().Before(deadline) {
		it, err = eng.GetItinerary(ctx, created.ID)
		require.NoError(t, err)
		if len(it.Days) > 0 && len(it.Days[0].Nodes) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NotEmpty(t, it.Days[0].Nodes)
	nodeID := it.Days[0].Nodes[0].ID

	booked, err := eng.Book(ctx, created.ID, nodeID)
	require.NoError(t, err)
	require.True(t, booked.Locked)
	require.NotEmpty(t, booked.BookingRef)
}

type recordingPublisher struct {
	patches  []itinerary.PatchEvent
	progress []itinerary.AgentProgressEvent
}

func (r *recordingPublisher) PublishProgress(_ context.Context, e itinerary.AgentProgressEvent) error {
	r.progress = append(r.progress, e)
	return nil
}

func (r *recordingPublisher) PublishPatch(_ context.Context, e itinerary.PatchEvent) error {
	r.patches = append(r.patches, e)
	return nil
}

func TestEngineWithClusterPublisherReceivesPatchEvents(t *testing.T) {
	cluster := &recordingPublisher{}
	eng := api.New(config.Config{LLM: config.LLM{MockMode: true}}, &mockCompleter{text: "{}"}, nil, nil, api.WithClusterPublisher(cluster))
	ctx := context.Background()

	created, err := eng.CreateItinerary(ctx, "owner_cluster", itinagents.CreationRequest{
		Destination: "Porto",
		StartDate:   "2026-09-01",
		EndDate:     "2026-09-01",
		PartySize:   1,
	})
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	var it *itinerary.Itinerary
	for time.Now().Before(deadline) {
		it, err = eng.GetItinerary(ctx, created.ID)
		require.NoError(t, err)
		if len(it.Days) > 0 && len(it.Days[0].Nodes) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	nodeID := it.Days[0].Nodes[0].ID

	_, err = eng.Book(ctx, created.ID, nodeID)
	require.NoError(t, err)

	found := false
	for _, p := range cluster.patches {
		if p.ItineraryID == created.ID {
			found = true
		}
	}
	require.True(t, found, "cluster publisher should receive patch events alongside the in-process bus")
}

func TestEngineChatExplainIsReadOnly(t *testing.T) {
	eng := newEngine(t)
	ctx := context.Background()

	created, err := eng.CreateItinerary(ctx, "owner_4", itinagents.CreationRequest{
		Destination: "Valencia",
		StartDate:   "2026-09-01",
		EndDate:     "2026-09-01",
		PartySize:   1,
	})
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	var it *itinerary.Itinerary
	for time.Now().Before(deadline) {
		it, err = eng.GetItinerary(ctx, created.ID)
		require.NoError(t, err)
		if len(it.Days) > 0 && len(it.Days[0].Nodes) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	nodeID := it.Days[0].Nodes[0].ID

	resp, err := eng.Chat(ctx, chat.Request{
		ItineraryID:    created.ID,
		ChatText:       "why should I go here",
		SelectedNodeID: nodeID,
	})
	require.NoError(t, err)
	require.Equal(t, chat.IntentExplain, resp.Intent)
	require.False(t, resp.Applied)
}
