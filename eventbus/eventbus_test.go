package eventbus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/goa-ai/eventbus"
	"goa.design/goa-ai/itinerary"
)

func TestSubscribeReceivesPublishedEventsInOrder(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(context.Background(), "it_1")
	defer sub.Unsubscribe()

	require.NoError(t, bus.PublishProgress(context.Background(), itinerary.AgentProgressEvent{ItineraryID: "it_1", AgentID: "skeleton", Status: "running"}))
	require.NoError(t, bus.PublishProgress(context.Background(), itinerary.AgentProgressEvent{ItineraryID: "it_1", AgentID: "skeleton", Status: "succeeded"}))

	first := <-sub.Events
	second := <-sub.Events
	require.EqualValues(t, 1, first.Seq)
	require.EqualValues(t, 2, second.Seq)
	require.Equal(t, "running", first.Progress.Status)
	require.Equal(t, "succeeded", second.Progress.Status)
}

func TestSubscribersAreIsolatedByItinerary(t *testing.T) {
	bus := eventbus.New()
	subA := bus.Subscribe(context.Background(), "it_a")
	subB := bus.Subscribe(context.Background(), "it_b")
	defer subA.Unsubscribe()
	defer subB.Unsubscribe()

	require.NoError(t, bus.PublishProgress(context.Background(), itinerary.AgentProgressEvent{ItineraryID: "it_a", AgentID: "x", Status: "running"}))

	select {
	case e := <-subA.Events:
		require.Equal(t, "it_a", e.Progress.ItineraryID)
	case <-time.After(time.Second):
		t.Fatal("expected event on subA")
	}
	select {
	case <-subB.Events:
		t.Fatal("subB should not receive it_a events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(context.Background(), "it_1")
	sub.Unsubscribe()

	require.NoError(t, bus.PublishProgress(context.Background(), itinerary.AgentProgressEvent{ItineraryID: "it_1", AgentID: "x", Status: "running"}))

	select {
	case _, ok := <-sub.Events:
		require.False(t, ok, "channel should be closed or empty after unsubscribe")
	default:
	}
}

func TestSubscriptionCancelledViaContext(t *testing.T) {
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	sub := bus.Subscribe(ctx, "it_1")
	cancel()

	// Give the cancellation goroutine a moment to unsubscribe.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, bus.PublishProgress(context.Background(), itinerary.AgentProgressEvent{ItineraryID: "it_1", AgentID: "x", Status: "running"}))

	select {
	case <-sub.Events:
		t.Fatal("should not receive events after context cancellation")
	case <-time.After(50 * time.Millisecond):
	}
}

type recordingPublisher struct {
	progress []itinerary.AgentProgressEvent
	patches  []itinerary.PatchEvent
	err      error
}

func (r *recordingPublisher) PublishProgress(_ context.Context, e itinerary.AgentProgressEvent) error {
	r.progress = append(r.progress, e)
	return r.err
}

func (r *recordingPublisher) PublishPatch(_ context.Context, e itinerary.PatchEvent) error {
	r.patches = append(r.patches, e)
	return r.err
}

func TestMultiPublisherFansOutToEveryBackend(t *testing.T) {
	a := &recordingPublisher{}
	b := &recordingPublisher{}
	multi := eventbus.Multi(a, b)

	require.NoError(t, multi.PublishProgress(context.Background(), itinerary.AgentProgressEvent{ItineraryID: "it_1"}))
	require.NoError(t, multi.PublishPatch(context.Background(), itinerary.PatchEvent{ItineraryID: "it_1", ToVersion: 2}))

	require.Len(t, a.progress, 1)
	require.Len(t, b.progress, 1)
	require.Len(t, a.patches, 1)
	require.Len(t, b.patches, 1)
}

func TestMultiPublisherReturnsFirstErrorButStillPublishesToAll(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("backend down")}
	ok := &recordingPublisher{}
	multi := eventbus.Multi(failing, ok)

	err := multi.PublishProgress(context.Background(), itinerary.AgentProgressEvent{ItineraryID: "it_1"})
	require.EqualError(t, err, "backend down")
	require.Len(t, failing.progress, 1)
	require.Len(t, ok.progress, 1)
}

func TestSlowSubscriberEventsAreDropped(t *testing.T) {
	bus := eventbus.New(eventbus.WithBuffer(1))
	sub := bus.Subscribe(context.Background(), "it_1")
	defer sub.Unsubscribe()

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.PublishProgress(context.Background(), itinerary.AgentProgressEvent{ItineraryID: "it_1", AgentID: "x", Status: "running"}))
	}

	// Publisher never blocks even though the subscriber's buffer (1) is
	// smaller than the number of published events.
	select {
	case <-sub.Events:
	default:
		t.Fatal("expected at least one buffered event")
	}
}
