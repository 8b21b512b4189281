// Package eventbus provides in-process pub/sub for itinerary progress and
// patch events, keyed by itinerary id. Delivery is at-least-once to live
// subscribers with best-effort ordering: each subscription receives events
// for a given itinerary in the order Publish was called for that itinerary.
// Disconnected subscribers simply miss events — there is no replay.
package eventbus

import (
	"context"
	"sync"

	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/telemetry"
)

const defaultBuffer = 64

// Publisher is the publish side of an event bus backend. Both the in-process
// Bus and the clustered eventbus/pulse.Bus implement it, so orchestrator,
// change, and chat code depend on this interface rather than a concrete type.
type Publisher interface {
	PublishProgress(ctx context.Context, e itinerary.AgentProgressEvent) error
	PublishPatch(ctx context.Context, e itinerary.PatchEvent) error
}

type (
	// Bus is the in-process event bus. It is safe for concurrent use.
	Bus struct {
		mu     sync.Mutex
		topics map[string]*topic
		buffer int
		logger telemetry.Logger
	}

	// Subscription is a live channel of events for one itinerary.
	Subscription struct {
		Events <-chan itinerary.Event
		cancel func()
	}

	topic struct {
		mu   sync.Mutex
		seq  uint64
		subs map[int]chan itinerary.Event
		next int
	}

	// Option configures a Bus.
	Option func(*Bus)
)

// WithBuffer overrides the per-subscription channel capacity. Defaults to 64.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithLogger attaches a logger used to report dropped subscribers.
func WithLogger(l telemetry.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New constructs an empty Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		topics: make(map[string]*topic),
		buffer: defaultBuffer,
		logger: telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe opens a live subscription for itineraryID. Callers must call the
// returned Subscription's Unsubscribe (or cancel ctx) when done to release
// the channel.
func (b *Bus) Subscribe(ctx context.Context, itineraryID string) Subscription {
	t := b.topicFor(itineraryID)
	t.mu.Lock()
	id := t.next
	t.next++
	ch := make(chan itinerary.Event, b.buffer)
	t.subs[id] = ch
	t.mu.Unlock()

	cancelled := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(cancelled)
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-cancelled:
			}
		}()
	}
	return Subscription{Events: ch, cancel: cancel}
}

// Unsubscribe releases the subscription's channel.
func (s Subscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

// PublishProgress delivers an AgentProgressEvent to all live subscribers of
// the event's itinerary, assigning the next sequence number. The in-process
// Bus never fails to publish, so the returned error is always nil; it is
// present to satisfy Publisher.
func (b *Bus) PublishProgress(ctx context.Context, e itinerary.AgentProgressEvent) error {
	b.publish(e.ItineraryID, itinerary.Event{Progress: &e})
	return nil
}

// PublishPatch delivers a PatchEvent to all live subscribers of the event's
// itinerary. Patch events for a given itinerary are published in ToVersion
// order by the Change Engine, which is the only caller of this method.
func (b *Bus) PublishPatch(ctx context.Context, e itinerary.PatchEvent) error {
	b.publish(e.ItineraryID, itinerary.Event{Patch: &e})
	return nil
}

// Compile-time check that Bus implements Publisher.
var _ Publisher = (*Bus)(nil)

// multiPublisher fans every publish out to all of its backends, so a
// deployment can keep the in-process Bus for local subscribers while also
// feeding a clustered backend (eventbus/pulse) for cross-process fan-out.
type multiPublisher []Publisher

// Multi combines publishers into a single Publisher that publishes to each in
// order, returning the first error encountered (publishing to the remaining
// backends is still attempted).
func Multi(publishers ...Publisher) Publisher {
	return multiPublisher(publishers)
}

func (m multiPublisher) PublishProgress(ctx context.Context, e itinerary.AgentProgressEvent) error {
	var firstErr error
	for _, p := range m {
		if err := p.PublishProgress(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m multiPublisher) PublishPatch(ctx context.Context, e itinerary.PatchEvent) error {
	var firstErr error
	for _, p := range m {
		if err := p.PublishPatch(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *Bus) publish(itineraryID string, evt itinerary.Event) {
	t := b.topicFor(itineraryID)
	t.mu.Lock()
	t.seq++
	evt.Seq = t.seq
	subs := make([]chan itinerary.Event, 0, len(t.subs))
	for _, ch := range t.subs {
		subs = append(subs, ch)
	}
	t.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber: drop rather than block the publisher. Publish is
			// non-blocking for publishers by design (see §5 Shared-resource policy).
			b.logger.Warn(context.Background(), "eventbus: dropped event for slow subscriber", "itinerary", itineraryID)
		}
	}
}

func (b *Bus) topicFor(itineraryID string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[itineraryID]
	if !ok {
		t = &topic{subs: make(map[int]chan itinerary.Event)}
		b.topics[itineraryID] = t
	}
	return t
}
