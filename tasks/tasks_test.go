package tasks_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/goa-ai/agentregistry"
	"goa.design/goa-ai/config"
	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/store/memory"
	"goa.design/goa-ai/tasks"
)

// fakeAgent lets tests control success/failure without standing up an LLM.
type fakeAgent struct {
	taskType string
	fail     error
	calls    int
}

func (a *fakeAgent) Name() string        { return "FakeAgent" }
func (a *fakeAgent) TaskType() string    { return a.taskType }
func (a *fakeAgent) Priority() int       { return 1 }
func (a *fakeAgent) ChatEnabled() bool   { return false }
func (a *fakeAgent) Execute(ctx context.Context, req agentregistry.Request) (*agentregistry.Response, error) {
	a.calls++
	if a.fail != nil {
		return nil, a.fail
	}
	return &agentregistry.Response{Message: "done", Applied: true}, nil
}

func newQueue(t *testing.T, agent agentregistry.Agent) (*tasks.Queue, *memory.Store) {
	t.Helper()
	st := memory.New()
	reg := agentregistry.New()
	reg.MustRegister(agent)
	q := tasks.New(config.TaskSweep{StalenessMinutes: 10, HardTimeoutMinutes: 30, Interval: time.Second}, st, reg, nil)
	return q, st
}

func TestSubmitPickupExecuteCompletesTask(t *testing.T) {
	agent := &fakeAgent{taskType: "enrich"}
	q, st := newQueue(t, agent)

	id, err := q.Submit(context.Background(), "enrich", "it_1", "owner_1", nil, "", 3)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	task, err := q.Pickup(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, itinerary.TaskRunning, task.Status)

	require.NoError(t, q.Execute(context.Background(), task))

	stored, err := st.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, itinerary.TaskCompleted, stored.Status)
	require.Equal(t, 1, agent.calls)
}

func TestSubmitIsIdempotentByKey(t *testing.T) {
	agent := &fakeAgent{taskType: "enrich"}
	q, _ := newQueue(t, agent)

	id1, err := q.Submit(context.Background(), "enrich", "it_1", "owner_1", nil, "dup-key", 3)
	require.NoError(t, err)
	id2, err := q.Submit(context.Background(), "enrich", "it_1", "owner_1", nil, "dup-key", 3)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestExecuteRetriesThenFailsAfterMaxAttempts(t *testing.T) {
	agent := &fakeAgent{taskType: "enrich", fail: errors.New("boom")}
	q, st := newQueue(t, agent)

	id, err := q.Submit(context.Background(), "enrich", "it_1", "owner_1", nil, "", 2)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		task, err := q.Pickup(context.Background(), id)
		require.NoError(t, err)
		require.NoError(t, q.Execute(context.Background(), task))

		stored, err := st.GetTask(context.Background(), id)
		require.NoError(t, err)
		if i == 0 {
			require.Equal(t, itinerary.TaskPending, stored.Status)
			// force immediate re-pickup regardless of backoff for the test
			stored.NextAttemptAt = time.Time{}
			require.NoError(t, st.UpdateTask(context.Background(), stored, itinerary.TaskPending))
		} else {
			require.Equal(t, itinerary.TaskFailed, stored.Status)
			require.Equal(t, "boom", stored.LastError)
		}
	}
	require.Equal(t, 2, agent.calls)
}

func TestCancelDiscardsPendingCompletion(t *testing.T) {
	agent := &fakeAgent{taskType: "enrich"}
	q, st := newQueue(t, agent)

	id, err := q.Submit(context.Background(), "enrich", "it_1", "owner_1", nil, "", 3)
	require.NoError(t, err)

	task, err := q.Pickup(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, q.Cancel(context.Background(), id))
	require.NoError(t, q.Execute(context.Background(), task))

	stored, err := st.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, itinerary.TaskCancelled, stored.Status)
}

func TestSweepOnceResetsHardTimedOutTask(t *testing.T) {
	agent := &fakeAgent{taskType: "enrich"}
	q, st := newQueue(t, agent)

	id, err := q.Submit(context.Background(), "enrich", "it_1", "owner_1", nil, "", 3)
	require.NoError(t, err)

	task, err := q.Pickup(context.Background(), id)
	require.NoError(t, err)

	// Simulate a worker that went silent past its hard-timeout deadline.
	task.PickupDeadline = time.Now().UTC().Add(-time.Minute)
	task.UpdatedAt = time.Now().UTC()
	require.NoError(t, st.UpdateTask(context.Background(), task, itinerary.TaskRunning))

	reset, err := q.SweepOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, reset)

	stored, err := st.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, itinerary.TaskPending, stored.Status)
}

func TestSweepOnceResetsStaleTask(t *testing.T) {
	agent := &fakeAgent{taskType: "enrich"}
	q, st := newQueue(t, agent)

	id, err := q.Submit(context.Background(), "enrich", "it_1", "owner_1", nil, "", 3)
	require.NoError(t, err)

	task, err := q.Pickup(context.Background(), id)
	require.NoError(t, err)

	// Heartbeat stopped long before the hard timeout.
	task.UpdatedAt = time.Now().UTC().Add(-20 * time.Minute)
	require.NoError(t, st.UpdateTask(context.Background(), task, itinerary.TaskRunning))

	reset, err := q.SweepOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, reset)
}
