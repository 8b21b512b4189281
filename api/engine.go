// Package api assembles the Store Adapter, Event Bus, LLM Gateway, Change
// Engine, Agent Registry, pipeline agents, Orchestrator, Chat Router, and
// Task Queue into the transport-agnostic Service surface: one instantiation
// that an HTTP handler, a WebSocket handler, or a test can all drive
// identically.
package api

import (
	"context"
	"fmt"
	"time"

	"goa.design/goa-ai/agentregistry"
	"goa.design/goa-ai/change"
	"goa.design/goa-ai/chat"
	"goa.design/goa-ai/config"
	"goa.design/goa-ai/eventbus"
	"goa.design/goa-ai/itinagents"
	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/llm"
	"goa.design/goa-ai/orchestrator"
	"goa.design/goa-ai/store"
	"goa.design/goa-ai/store/memory"
	"goa.design/goa-ai/tasks"
	"goa.design/goa-ai/telemetry"
)

// CreateItineraryResult is the synchronous reply to createItinerary.
type CreateItineraryResult struct {
	ID      string
	Version int
	Status  string
}

// ProposeResult is the reply to proposeChange.
type ProposeResult struct {
	Proposed       *itinerary.Itinerary
	Diff           itinerary.Diff
	PreviewVersion int
}

// ApplyResult is the reply to applyChange and undo.
type ApplyResult struct {
	ToVersion int
	Diff      itinerary.Diff
}

// BookResult is the reply to book.
type BookResult struct {
	BookingRef string
	Locked     bool
}

// Service is the transport-agnostic core RPC surface (spec §6). HTTP and
// WebSocket handlers are both a thin adaptation of this interface.
type Service interface {
	CreateItinerary(ctx context.Context, owner string, req itinagents.CreationRequest) (*CreateItineraryResult, error)
	GetItinerary(ctx context.Context, id string) (*itinerary.Itinerary, error)
	ListItineraries(ctx context.Context, owner string) ([]itinerary.TripMetadata, error)
	ProposeChange(ctx context.Context, id string, cs itinerary.ChangeSet) (*ProposeResult, error)
	ApplyChange(ctx context.Context, id string, cs itinerary.ChangeSet, author string) (*ApplyResult, error)
	Undo(ctx context.Context, id string, targetVersion *int) (*ApplyResult, error)
	Chat(ctx context.Context, req chat.Request) (*chat.Response, error)
	Book(ctx context.Context, id, nodeID string) (*BookResult, error)
	SubscribePatches(ctx context.Context, id string) eventbus.Subscription
	SubscribeProgress(ctx context.Context, id string) eventbus.Subscription
}

// Engine wires every component into one Service implementation.
type Engine struct {
	store    store.Store
	bus      *eventbus.Bus
	change   *change.Engine
	registry *agentregistry.Registry
	orch     *orchestrator.Orchestrator
	router   *chat.Router
	queue    *tasks.Queue
	logger   telemetry.Logger
}

var _ Service = (*Engine)(nil)

// Option configures optional Engine behavior.
type Option func(*engineOptions)

type engineOptions struct {
	clusterPublisher eventbus.Publisher
}

// WithClusterPublisher adds a clustered event-bus backend (e.g.
// eventbus/pulse.Bus) that receives a copy of every progress/patch event
// alongside the in-process Bus. Subscribers still attach locally via
// SubscribePatches/SubscribeProgress; the cluster publisher lets other
// processes sharing the same store observe the same events.
func WithClusterPublisher(pub eventbus.Publisher) Option {
	return func(o *engineOptions) { o.clusterPublisher = pub }
}

// New wires an Engine from cfg and a backing Completer. Pass an in-memory
// store via st, or nil to use store/memory.
func New(cfg config.Config, completer llm.Completer, st store.Store, logger telemetry.Logger, opts ...Option) *Engine {
	cfg = cfg.Defaulted()
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if st == nil {
		st = memory.New()
	}
	var eo engineOptions
	for _, opt := range opts {
		opt(&eo)
	}
	bus := eventbus.New(eventbus.WithLogger(logger))
	var publisher eventbus.Publisher = bus
	if eo.clusterPublisher != nil {
		publisher = eventbus.Multi(bus, eo.clusterPublisher)
	}

	retryPolicy := llm.RetryPolicy{
		MaxAttempts: cfg.LLM.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.LLM.Retry.BaseMs) * time.Millisecond,
		Factor:      2,
	}
	client := llm.NewGateway(completer, llm.WithRetryPolicy(retryPolicy), llm.WithTelemetry(logger, nil))

	eng := change.New(st, publisher,
		change.WithLogger(logger),
		change.WithRevisionRetention(cfg.Revisions.Retain),
	)

	reg := agentregistry.New()
	reg.MustRegister(itinagents.NewEditorAgent(client, eng, publisher, logger))
	reg.MustRegister(itinagents.NewDayByDayPlannerAgent(client, eng, publisher, st, logger))
	reg.MustRegister(itinagents.NewExplainAgent(client, eng, publisher, logger))
	reg.MustRegister(itinagents.NewBookingAgent(client, eng, publisher, logger))
	reg.MustRegister(itinagents.NewEnrichmentAgent(client, eng, publisher, logger))
	reg.MustRegister(itinagents.NewPlacesAgent(client, eng, publisher, logger))
	reg.MustRegister(itinagents.NewPlannerAgent(client, eng, publisher, st, logger))
	reg.MustRegister(itinagents.NewSkeletonPlannerAgent(client, eng, publisher, logger))
	reg.MustRegister(itinagents.NewActivityAgent(client, eng, publisher, logger))
	reg.MustRegister(itinagents.NewMealAgent(client, eng, publisher, logger))
	reg.MustRegister(itinagents.NewTransportAgent(client, eng, publisher, logger))
	reg.MustRegister(itinagents.NewCostEstimatorAgent(client, eng, publisher, logger))

	orch := orchestrator.New(cfg.Orchestrator, client, st, publisher, eng, logger)
	router := chat.New(reg, eng, st, client, logger)
	queue := tasks.New(cfg.TaskSweep, st, reg, logger)

	return &Engine{store: st, bus: bus, change: eng, registry: reg, orch: orch, router: router, queue: queue, logger: logger}
}

// StartBackgroundWork starts the task sweep loop. Callers that embed Engine
// in a longer-lived process should call this once and StopBackgroundWork on
// shutdown.
func (e *Engine) StartBackgroundWork(ctx context.Context) { e.queue.StartSweep(ctx) }

// StopBackgroundWork stops the task sweep loop started by StartBackgroundWork.
func (e *Engine) StopBackgroundWork() { e.queue.StopSweep() }

// Tasks exposes the durable task queue for callers that submit async work
// (e.g. an HTTP handler queuing a long-running chat edit instead of blocking
// on it).
func (e *Engine) Tasks() *tasks.Queue { return e.queue }

func (e *Engine) CreateItinerary(ctx context.Context, owner string, req itinagents.CreationRequest) (*CreateItineraryResult, error) {
	id, err := e.orch.CreateItinerary(ctx, owner, req)
	if err != nil {
		return nil, err
	}
	_, version, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("api: reading created itinerary failed: %w", err)
	}
	return &CreateItineraryResult{ID: id, Version: version, Status: "generating"}, nil
}

func (e *Engine) GetItinerary(ctx context.Context, id string) (*itinerary.Itinerary, error) {
	it, _, err := e.store.Get(ctx, id)
	return it, err
}

func (e *Engine) ListItineraries(ctx context.Context, owner string) ([]itinerary.TripMetadata, error) {
	return e.store.ListByOwner(ctx, owner)
}

func (e *Engine) ProposeChange(ctx context.Context, id string, cs itinerary.ChangeSet) (*ProposeResult, error) {
	res, err := e.change.Propose(ctx, id, cs)
	if err != nil {
		return nil, err
	}
	return &ProposeResult{Proposed: res.Itinerary, Diff: res.Diff, PreviewVersion: res.PreviewVersion}, nil
}

func (e *Engine) ApplyChange(ctx context.Context, id string, cs itinerary.ChangeSet, author string) (*ApplyResult, error) {
	res, err := e.change.Apply(ctx, id, cs, author)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{ToVersion: res.ToVersion, Diff: res.Diff}, nil
}

func (e *Engine) Undo(ctx context.Context, id string, targetVersion *int) (*ApplyResult, error) {
	res, err := e.change.Undo(ctx, id, targetVersion)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{ToVersion: res.ToVersion, Diff: res.Diff}, nil
}

func (e *Engine) Chat(ctx context.Context, req chat.Request) (*chat.Response, error) {
	return e.router.Handle(ctx, req)
}

func (e *Engine) Book(ctx context.Context, id, nodeID string) (*BookResult, error) {
	agent, err := e.registry.Resolve("book")
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	resp, err := agent.Execute(ctx, agentregistry.Request{ItineraryID: id, SelectedNodeID: nodeID, AutoApply: true})
	if err != nil {
		return nil, err
	}
	it, _, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	node, _ := it.NodeByID(nodeID)
	if node == nil {
		return nil, fmt.Errorf("api: booked node %q not found after booking", nodeID)
	}
	_ = resp
	return &BookResult{BookingRef: node.BookingRef, Locked: node.Locked}, nil
}

func (e *Engine) SubscribePatches(ctx context.Context, id string) eventbus.Subscription {
	return e.bus.Subscribe(ctx, id)
}

func (e *Engine) SubscribeProgress(ctx context.Context, id string) eventbus.Subscription {
	return e.bus.Subscribe(ctx, id)
}
