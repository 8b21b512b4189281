package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/goa-ai/change"
	"goa.design/goa-ai/config"
	"goa.design/goa-ai/eventbus"
	"goa.design/goa-ai/itinagents"
	"goa.design/goa-ai/llm"
	"goa.design/goa-ai/orchestrator"
	"goa.design/goa-ai/store/memory"
)

func TestCreateItineraryRunsAllFivePhases(t *testing.T) {
	st := memory.New()
	bus := eventbus.New()
	eng := change.New(st, bus)
	mock := llm.NewMockBackend("")
	mock.Default = `{}`
	gw := llm.NewGateway(mock)

	orch := orchestrator.New(config.Orchestrator{PhaseTimeoutSec: 5}, gw, st, bus, eng, nil)

	id, err := orch.CreateItinerary(context.Background(), "owner_1", itinagents.CreationRequest{
		Destination: "Madrid",
		StartDate:   "2026-11-01",
		EndDate:     "2026-11-01",
		PartySize:   2,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	deadline := time.Now().Add(2 * time.Second)
	var status string
	for time.Now().Before(deadline) {
		metas, err := st.ListByOwner(context.Background(), "owner_1")
		require.NoError(t, err)
		if len(metas) == 1 && metas[0].Status != "generating" {
			status = metas[0].Status
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, "ready", status)

	it, _, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, it.Days, 1)
	require.NotEmpty(t, it.Days[0].Nodes)
}
