// Package pulse provides an optional clustered Event Bus backend on top of
// Redis-backed Pulse streams, so multiple orchestrator processes can publish
// and fan out progress/patch events to the same set of subscribers. The
// default eventbus.Bus is in-process only; this backend is for multi-process
// deployments that share a Redis instance.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	streamopts "goa.design/pulse/streaming/options"

	"goa.design/goa-ai/eventbus"
	clientspulse "goa.design/goa-ai/features/stream/pulse/clients/pulse"
	"goa.design/goa-ai/itinerary"
)

const defaultSinkName = "itinerary_subscriber"

// Compile-time check that Bus implements eventbus.Publisher.
var _ eventbus.Publisher = (*Bus)(nil)

type (
	// Bus publishes itinerary events onto per-itinerary Pulse streams and
	// subscribes to them via Pulse sinks (consumer groups).
	Bus struct {
		client clientspulse.Client
		sink   string
	}

	// Options configures a Pulse-backed Bus.
	Options struct {
		// Client is the Pulse client used to publish/subscribe. Required.
		Client clientspulse.Client
		// SinkName names the consumer group used when subscribing. Defaults to
		// "itinerary_subscriber".
		SinkName string
	}
)

// New constructs a Pulse-backed Bus.
func New(opts Options) (*Bus, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = defaultSinkName
	}
	return &Bus{client: opts.Client, sink: name}, nil
}

func streamName(itineraryID string) string { return "itinerary:" + itineraryID }

// PublishProgress publishes an AgentProgressEvent onto the itinerary's stream.
func (b *Bus) PublishProgress(ctx context.Context, e itinerary.AgentProgressEvent) error {
	return b.publish(ctx, e.ItineraryID, "progress", itinerary.Event{Progress: &e})
}

// PublishPatch publishes a PatchEvent onto the itinerary's stream.
func (b *Bus) PublishPatch(ctx context.Context, e itinerary.PatchEvent) error {
	return b.publish(ctx, e.ItineraryID, "patch", itinerary.Event{Patch: &e})
}

func (b *Bus) publish(ctx context.Context, itineraryID, kind string, evt itinerary.Event) error {
	str, err := b.client.Stream(streamName(itineraryID))
	if err != nil {
		return fmt.Errorf("pulse eventbus: open stream: %w", err)
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("pulse eventbus: marshal event: %w", err)
	}
	_, err = str.Add(ctx, kind, payload)
	return err
}

// Subscribe opens a Pulse sink on the itinerary's stream and returns a
// channel of decoded events plus a cancel function. Events are delivered
// at-least-once; callers must Ack implicitly by consuming from the channel
// (acking is handled internally after each successful delivery).
func (b *Bus) Subscribe(ctx context.Context, itineraryID string, opts ...streamopts.Sink) (<-chan itinerary.Event, context.CancelFunc, error) {
	str, err := b.client.Stream(streamName(itineraryID))
	if err != nil {
		return nil, nil, fmt.Errorf("pulse eventbus: open stream: %w", err)
	}
	sink, err := str.NewSink(ctx, b.sink, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("pulse eventbus: open sink: %w", err)
	}
	out := make(chan itinerary.Event, 64)
	runCtx, cancel := context.WithCancel(ctx)
	go b.consume(runCtx, sink, out)
	return out, func() {
		cancel()
		sink.Close(context.Background())
	}, nil
}

func (b *Bus) consume(ctx context.Context, sink clientspulse.Sink, out chan<- itinerary.Event) {
	defer close(out)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var evt itinerary.Event
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
			_ = sink.Ack(ctx, msg)
		}
	}
}
