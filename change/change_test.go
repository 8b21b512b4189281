package change_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/goa-ai/change"
	"goa.design/goa-ai/eventbus"
	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/store/memory"
)

func seedItinerary(t *testing.T, st *memory.Store, id string) {
	t.Helper()
	it := &itinerary.Itinerary{
		ID:    id,
		Owner: "user_1",
		Days: []*itinerary.Day{
			{
				DayNumber: 1,
				Date:      "2026-08-01",
				Nodes: []*itinerary.Node{
					{ID: "day1_node1", Type: itinerary.NodeTypeAttraction, Title: "Museum", Timing: itinerary.Timing{StartTime: "2026-08-01T08:00:00Z", EndTime: "2026-08-01T10:00:00Z"}},
					{ID: "day1_node2", Type: itinerary.NodeTypeAttraction, Title: "Park", Locked: true, Timing: itinerary.Timing{StartTime: "2026-08-01T10:30:00Z", EndTime: "2026-08-01T12:00:00Z"}},
				},
				Edges: []*itinerary.Edge{{From: "day1_node1", To: "day1_node2"}},
			},
			{DayNumber: 2, Date: "2026-08-02"},
		},
	}
	_, err := st.Put(context.Background(), id, it, 0)
	require.NoError(t, err)
}

func TestApplyMoveRetimesWithinDay(t *testing.T) {
	st := memory.New()
	seedItinerary(t, st, "it_1")
	eng := change.New(st, eventbus.New())

	cs := itinerary.ChangeSet{Scope: itinerary.ScopeDay, Ops: []itinerary.Op{
		{Kind: itinerary.OpMove, ID: "day1_node1", StartTime: "09:00", EndTime: "10:00"},
	}}

	res, err := eng.Apply(context.Background(), "it_1", cs, itinerary.UpdatedByUser)
	require.NoError(t, err)
	require.Equal(t, 2, res.ToVersion)

	node, day := res.Itinerary.NodeByID("day1_node1")
	require.NotNil(t, node)
	require.Equal(t, "2026-08-01T09:00:00Z", node.Timing.StartTime)
	require.Equal(t, 1, day.DayNumber)
	require.Len(t, res.Diff.Updated, 1)
	require.Equal(t, "day1_node1", res.Diff.Updated[0].ID)
}

func TestApplyReplaceReportsOnlyChangedFields(t *testing.T) {
	st := memory.New()
	seedItinerary(t, st, "it_1")
	eng := change.New(st, eventbus.New())

	existing, _, err := st.Get(context.Background(), "it_1")
	require.NoError(t, err)
	node, _ := existing.NodeByID("day1_node1")
	replacement := node.Clone()
	replacement.Locked = true
	replacement.Labels = append(replacement.Labels, "Booked")
	replacement.BookingRef = "bkg_abc123"

	cs := itinerary.ChangeSet{Ops: []itinerary.Op{{Kind: itinerary.OpReplace, ID: "day1_node1", Node: replacement}}}
	res, err := eng.Apply(context.Background(), "it_1", cs, itinerary.UpdatedByUser)
	require.NoError(t, err)
	require.Len(t, res.Diff.Updated, 1)
	require.ElementsMatch(t, []string{"locked", "labels", "bookingRef"}, res.Diff.Updated[0].Fields)
}

func TestApplyEdgesReplacesDayEdgesAndRecomputesPacing(t *testing.T) {
	st := memory.New()
	seedItinerary(t, st, "it_1")
	eng := change.New(st, eventbus.New())

	newEdges := []*itinerary.Edge{{From: "day1_node1", To: "day1_node2", Transit: itinerary.Transit{Mode: "walk", DurationMin: 12}}}
	cs := itinerary.ChangeSet{Ops: []itinerary.Op{{Kind: itinerary.OpEdges, Day: 1, Edges: newEdges}}}

	res, err := eng.Apply(context.Background(), "it_1", cs, itinerary.UpdatedByAgent)
	require.NoError(t, err)
	day := res.Itinerary.DayByNumber(1)
	require.Len(t, day.Edges, 1)
	require.Equal(t, 12, day.Edges[0].Transit.DurationMin)
	require.NotEmpty(t, day.Pacing)
}

func TestApplyRejectsLockedNodeDelete(t *testing.T) {
	st := memory.New()
	seedItinerary(t, st, "it_1")
	eng := change.New(st, eventbus.New())

	cs := itinerary.ChangeSet{Ops: []itinerary.Op{{Kind: itinerary.OpDelete, ID: "day1_node2"}}}

	_, err := eng.Apply(context.Background(), "it_1", cs, itinerary.UpdatedByAgent)
	require.Error(t, err)

	var violation *change.LockedNodeViolation
	require.ErrorAs(t, err, &violation)
	require.Equal(t, []string{"day1_node2"}, violation.Nodes)

	_, version, getErr := st.Get(context.Background(), "it_1")
	require.NoError(t, getErr)
	require.Equal(t, 1, version)
}

func TestApplyInsertGeneratesIDAndRepairsEdges(t *testing.T) {
	st := memory.New()
	seedItinerary(t, st, "it_1")
	eng := change.New(st, eventbus.New())

	after := "day1_node1"
	cs := itinerary.ChangeSet{Ops: []itinerary.Op{
		{Kind: itinerary.OpInsert, Day: 1, After: &after, Node: &itinerary.Node{
			Type: itinerary.NodeTypeMeal, Title: "Lunch",
			Timing: itinerary.Timing{StartTime: "10:15", EndTime: "10:45"},
		}},
	}}

	res, err := eng.Apply(context.Background(), "it_1", cs, itinerary.UpdatedByAgent)
	require.NoError(t, err)
	require.Len(t, res.Diff.Added, 1)
	newID := res.Diff.Added[0].ID
	require.Equal(t, "day1_node3", newID)

	day := res.Itinerary.DayByNumber(1)
	require.Len(t, day.Nodes, 3)
	require.Equal(t, newID, day.Nodes[1].ID)

	var linked bool
	for _, e := range day.Edges {
		if e.From == "day1_node1" && e.To == newID {
			linked = true
		}
	}
	require.True(t, linked, "expected edge from day1_node1 to inserted node")
}

func TestApplyDeleteRejectsMissingNode(t *testing.T) {
	st := memory.New()
	seedItinerary(t, st, "it_1")
	eng := change.New(st, eventbus.New())

	cs := itinerary.ChangeSet{Ops: []itinerary.Op{{Kind: itinerary.OpDelete, ID: "does_not_exist"}}}
	_, err := eng.Apply(context.Background(), "it_1", cs, itinerary.UpdatedByAgent)
	require.Error(t, err)

	var invalid *change.InvalidChangeSet
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, 0, invalid.OpIndex)
}

func TestApplyInsertRejectsUnknownAfter(t *testing.T) {
	st := memory.New()
	seedItinerary(t, st, "it_1")
	eng := change.New(st, eventbus.New())

	after := "ghost"
	cs := itinerary.ChangeSet{Ops: []itinerary.Op{
		{Kind: itinerary.OpInsert, Day: 1, After: &after, Node: &itinerary.Node{Type: itinerary.NodeTypeMeal, Title: "X"}},
	}}
	_, err := eng.Apply(context.Background(), "it_1", cs, itinerary.UpdatedByAgent)
	require.Error(t, err)
	var invalid *change.InvalidChangeSet
	require.ErrorAs(t, err, &invalid)
}

func TestProposeDoesNotPersist(t *testing.T) {
	st := memory.New()
	seedItinerary(t, st, "it_1")
	eng := change.New(st, eventbus.New())

	cs := itinerary.ChangeSet{Ops: []itinerary.Op{{Kind: itinerary.OpDelete, ID: "day1_node1"}}}
	res, err := eng.Propose(context.Background(), "it_1", cs)
	require.NoError(t, err)
	require.Equal(t, 2, res.PreviewVersion)
	require.Len(t, res.Diff.Removed, 1)

	_, version, err := st.Get(context.Background(), "it_1")
	require.NoError(t, err)
	require.Equal(t, 1, version, "propose must not persist")
}

func TestApplyThenUndoRestoresPriorTiming(t *testing.T) {
	st := memory.New()
	seedItinerary(t, st, "it_1")
	eng := change.New(st, eventbus.New())

	cs := itinerary.ChangeSet{Ops: []itinerary.Op{
		{Kind: itinerary.OpMove, ID: "day1_node1", StartTime: "09:00", EndTime: "09:45"},
	}}
	applied, err := eng.Apply(context.Background(), "it_1", cs, itinerary.UpdatedByUser)
	require.NoError(t, err)
	require.Equal(t, 2, applied.ToVersion)

	undone, err := eng.Undo(context.Background(), "it_1", nil)
	require.NoError(t, err)
	require.Equal(t, 3, undone.ToVersion)

	node, _ := undone.Itinerary.NodeByID("day1_node1")
	require.Equal(t, "2026-08-01T08:00:00Z", node.Timing.StartTime)
}

func TestApplyMoveAcrossDaysRelinksEdges(t *testing.T) {
	st := memory.New()
	seedItinerary(t, st, "it_1")
	eng := change.New(st, eventbus.New())

	cs := itinerary.ChangeSet{Ops: []itinerary.Op{
		{Kind: itinerary.OpMove, ID: "day1_node1", Day: 2, StartTime: "09:00", EndTime: "10:00"},
	}}
	res, err := eng.Apply(context.Background(), "it_1", cs, itinerary.UpdatedByAgent)
	require.NoError(t, err)

	fromDay := res.Itinerary.DayByNumber(1)
	require.Len(t, fromDay.Nodes, 1)
	require.Equal(t, "day1_node2", fromDay.Nodes[0].ID)
	require.Empty(t, fromDay.Edges)

	toDay := res.Itinerary.DayByNumber(2)
	require.Len(t, toDay.Nodes, 1)
	require.Equal(t, "day1_node1", toDay.Nodes[0].ID)
	require.Equal(t, "2026-08-02T09:00:00Z", toDay.Nodes[0].Timing.StartTime)
	require.Empty(t, toDay.Edges)
}
