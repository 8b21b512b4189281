// Package orchestrator drives the five-phase generation pipeline: skeleton,
// parallel population, enrichment, cost estimation, finalization. Creation
// returns an itinerary id immediately after a synchronous preamble; the
// phases themselves run asynchronously, fanning out progress events over
// the Event Bus as they go.
package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"goa.design/goa-ai/change"
	"goa.design/goa-ai/config"
	"goa.design/goa-ai/eventbus"
	"goa.design/goa-ai/itinagents"
	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/llm"
	"goa.design/goa-ai/store"
	"goa.design/goa-ai/telemetry"
)

const agentID = "Orchestrator"

// Orchestrator runs the generation pipeline for newly created itineraries.
type Orchestrator struct {
	store store.Store
	bus   eventbus.Publisher
	eng   *change.Engine

	skeleton   *itinagents.SkeletonPlannerAgent
	activity   *itinagents.ActivityAgent
	meal       *itinagents.MealAgent
	transport  *itinagents.TransportAgent
	enrichment *itinagents.EnrichmentAgent
	cost       *itinagents.CostEstimatorAgent

	logger       telemetry.Logger
	phaseTimeout time.Duration

	mu        sync.Mutex
	cancelers map[string]context.CancelFunc
}

// New constructs an Orchestrator, wiring one instance of each pipeline
// agent over client and eng.
func New(cfg config.Orchestrator, client llm.Client, st store.Store, bus eventbus.Publisher, eng *change.Engine, logger telemetry.Logger) *Orchestrator {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	timeoutSec := cfg.PhaseTimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = 120
	}
	return &Orchestrator{
		store:        st,
		bus:          bus,
		eng:          eng,
		skeleton:     itinagents.NewSkeletonPlannerAgent(client, eng, bus, logger),
		activity:     itinagents.NewActivityAgent(client, eng, bus, logger),
		meal:         itinagents.NewMealAgent(client, eng, bus, logger),
		transport:    itinagents.NewTransportAgent(client, eng, bus, logger),
		enrichment:   itinagents.NewEnrichmentAgent(client, eng, bus, logger),
		cost:         itinagents.NewCostEstimatorAgent(client, eng, bus, logger),
		logger:       logger,
		phaseTimeout: time.Duration(timeoutSec) * time.Second,
		cancelers:    make(map[string]context.CancelFunc),
	}
}

// CreateItinerary runs the synchronous preamble (allocate id, persist an
// empty shell document, record trip metadata) and returns the itinerary id
// immediately. Generation continues in the background; callers subscribe to
// the Event Bus for progress.
func (o *Orchestrator) CreateItinerary(ctx context.Context, owner string, req itinagents.CreationRequest) (string, error) {
	id := newItineraryID()
	now := time.Now().UTC()

	shell := &itinerary.Itinerary{
		ID:        id,
		Owner:     owner,
		Summary:   req.Destination,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := o.store.Put(ctx, id, shell, 0); err != nil {
		return "", fmt.Errorf("orchestrator: persisting shell itinerary failed: %w", err)
	}

	meta := itinerary.TripMetadata{
		Owner:       owner,
		ItineraryID: id,
		Destination: req.Destination,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Status:      "generating",
	}
	if err := o.store.PutMetadata(ctx, owner, meta); err != nil {
		return "", fmt.Errorf("orchestrator: persisting trip metadata failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancelers[id] = cancel
	o.mu.Unlock()

	go o.run(runCtx, id, owner, req)

	return id, nil
}

// Cancel requests best-effort cancellation of an in-flight generation run.
// The orchestrator checks for cancellation between phases, not within one.
func (o *Orchestrator) Cancel(id string) {
	o.mu.Lock()
	cancel, ok := o.cancelers[id]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

func (o *Orchestrator) run(ctx context.Context, id, owner string, req itinagents.CreationRequest) {
	defer func() {
		o.mu.Lock()
		delete(o.cancelers, id)
		o.mu.Unlock()
	}()

	var warnings []string

	it, err := o.runSkeletonPhase(ctx, id, owner, req)
	if err != nil {
		o.finalize(ctx, owner, id, it, warnings, fmt.Errorf("skeleton phase: %w", err))
		return
	}
	if ctx.Err() != nil {
		o.finalize(ctx, owner, id, it, warnings, ctx.Err())
		return
	}

	it, popWarnings := o.runPopulationPhase(ctx, id, it)
	warnings = append(warnings, popWarnings...)
	if ctx.Err() != nil {
		o.finalize(ctx, owner, id, it, warnings, ctx.Err())
		return
	}

	it, enrichWarning := o.runEnrichmentPhase(ctx, id, it)
	if enrichWarning != "" {
		warnings = append(warnings, enrichWarning)
	}

	it, costWarning := o.runCostPhase(ctx, id, it, req.PartySize)
	if costWarning != "" {
		warnings = append(warnings, costWarning)
	}

	o.finalize(ctx, owner, id, it, warnings, nil)
}

func (o *Orchestrator) runSkeletonPhase(ctx context.Context, id, owner string, req itinagents.CreationRequest) (*itinerary.Itinerary, error) {
	phaseCtx, cancel := context.WithTimeout(ctx, o.phaseTimeout)
	defer cancel()

	it, err := o.skeleton.Generate(phaseCtx, id, req)
	if err != nil {
		return nil, err
	}
	it.Owner = owner

	current, version, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reloading shell before skeleton persist: %w", err)
	}
	it.CreatedAt = current.CreatedAt
	if _, err := o.store.Put(ctx, id, it, version); err != nil {
		return nil, fmt.Errorf("persisting skeleton: %w", err)
	}
	return it, nil
}

// runPopulationPhase fans out the three population agents' LLM calls
// concurrently, then applies their change-sets in the fixed order
// (activity, meal, transport) so version bumps never race. A failing agent
// is isolated: it contributes a warning and the other two still apply.
func (o *Orchestrator) runPopulationPhase(ctx context.Context, id string, it *itinerary.Itinerary) (*itinerary.Itinerary, []string) {
	phaseCtx, cancel := context.WithTimeout(ctx, o.phaseTimeout)
	defer cancel()

	type populated struct {
		name string
		cs   itinerary.ChangeSet
		err  error
	}
	results := make([]populated, 3)

	g, gCtx := errgroup.WithContext(phaseCtx)
	g.Go(func() error {
		cs, err := o.activity.Populate(gCtx, it)
		results[0] = populated{name: "ActivityAgent", cs: cs, err: err}
		return nil
	})
	g.Go(func() error {
		cs, err := o.meal.Populate(gCtx, it)
		results[1] = populated{name: "MealAgent", cs: cs, err: err}
		return nil
	})
	g.Go(func() error {
		cs, err := o.transport.Populate(gCtx, it)
		results[2] = populated{name: "TransportAgent", cs: cs, err: err}
		return nil
	})
	_ = g.Wait() // agent errors are carried in results, not returned here

	var warnings []string
	for _, r := range results {
		if r.err != nil {
			warnings = append(warnings, fmt.Sprintf("%s failed to populate: %v", r.name, r.err))
			continue
		}
		if len(r.cs.Ops) == 0 {
			continue
		}
		res, err := o.eng.Apply(ctx, id, r.cs, itinerary.UpdatedByAgent)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s change-set failed to apply: %v", r.name, err))
			continue
		}
		it = res.Itinerary
	}
	return it, warnings
}

func (o *Orchestrator) runEnrichmentPhase(ctx context.Context, id string, it *itinerary.Itinerary) (*itinerary.Itinerary, string) {
	cs := o.enrichment.Enrich(id, it)
	if len(cs.Ops) == 0 {
		return it, ""
	}
	res, err := o.eng.Apply(ctx, id, cs, itinerary.UpdatedByAgent)
	if err != nil {
		return it, fmt.Sprintf("enrichment failed to apply: %v", err)
	}
	return res.Itinerary, ""
}

func (o *Orchestrator) runCostPhase(ctx context.Context, id string, it *itinerary.Itinerary, partySize int) (*itinerary.Itinerary, string) {
	o.cost.ApplyTotals(it, partySize)

	_, version, err := o.store.Get(ctx, id)
	if err != nil {
		return it, fmt.Sprintf("cost estimation failed to reload before persist: %v", err)
	}
	if _, err := o.store.Put(ctx, id, it, version); err != nil {
		return it, fmt.Sprintf("cost estimation failed to persist totals: %v", err)
	}
	return it, ""
}

// finalize always runs, even when an earlier phase aborted: it sets the
// terminal trip metadata status and emits the closing progress event.
func (o *Orchestrator) finalize(ctx context.Context, owner, id string, it *itinerary.Itinerary, warnings []string, fatal error) {
	status := "ready"
	progressStatus := "succeeded"
	message := "generation complete"
	if len(warnings) > 0 {
		message = fmt.Sprintf("generation complete with %d warning(s)", len(warnings))
	}
	if fatal != nil {
		status = "failed"
		progressStatus = "failed"
		message = fatal.Error()
	}

	meta := itinerary.TripMetadata{Owner: owner, ItineraryID: id, Status: status}
	if it != nil {
		meta.Destination = it.Summary
	}
	if err := o.store.PutMetadata(ctx, owner, meta); err != nil {
		o.logger.Warn(ctx, "orchestrator: finalizing trip metadata failed", "itinerary", id, "error", err)
	}

	pct := 100
	evt := itinerary.AgentProgressEvent{
		ItineraryID: id,
		AgentID:     agentID,
		Kind:        "pipeline",
		Status:      progressStatus,
		Progress:    &pct,
		Message:     message,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := o.bus.PublishProgress(ctx, evt); err != nil {
		o.logger.Warn(ctx, "orchestrator: publishing final event failed", "itinerary", id, "error", err)
	}
}

func newItineraryID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "it_" + hex.EncodeToString(buf)
}
