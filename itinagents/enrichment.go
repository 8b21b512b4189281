package itinagents

import (
	"context"
	"fmt"
	"math"
	"time"

	"goa.design/goa-ai/agentregistry"
	"goa.design/goa-ai/change"
	"goa.design/goa-ai/eventbus"
	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/llm"
	"goa.design/goa-ai/telemetry"
)

// EnrichmentAgent validates node timing against opening hours, computes
// pacing and transit durations, and derives warnings. It does not call the
// LLM in its core path.
type EnrichmentAgent struct {
	base
	pacing change.PacingThresholds
}

// NewEnrichmentAgent constructs the agent.
func NewEnrichmentAgent(client llm.Client, eng *change.Engine, bus eventbus.Publisher, logger telemetry.Logger) *EnrichmentAgent {
	return &EnrichmentAgent{
		base:   newBase("EnrichmentAgent", client, eng, bus, logger),
		pacing: change.PacingThresholds{RelaxedBelow: 4, IntenseAbove: 8},
	}
}

func (a *EnrichmentAgent) Name() string     { return a.base.name }
func (a *EnrichmentAgent) TaskType() string  { return "enrich" }
func (a *EnrichmentAgent) Priority() int     { return 20 }
func (a *EnrichmentAgent) ChatEnabled() bool { return true }

// Enrich computes warnings, pacing, and transit durations for it and returns
// the change-set needed to persist the result: a replace op per node with an
// opening-hours warning, plus an edges op per day carrying the filled-in
// transit legs so the Change Engine recomputes pacing/totals for every day,
// not only the ones a warning touched. Pure computation; no network calls.
func (a *EnrichmentAgent) Enrich(itineraryID string, it *itinerary.Itinerary) itinerary.ChangeSet {
	cs := itinerary.ChangeSet{Scope: itinerary.ScopeTrip}
	for _, d := range it.Days {
		for _, n := range d.Nodes {
			if warning := checkOpeningHours(n); warning != "" {
				updated := n.Clone()
				updated.Details = mergeWarning(updated.Details, warning)
				cs.Ops = append(cs.Ops, itinerary.Op{Kind: itinerary.OpReplace, ID: n.ID, Node: updated})
			}
		}
		fillMissingTransit(d)
		cs.Ops = append(cs.Ops, itinerary.Op{Kind: itinerary.OpEdges, Day: d.DayNumber, Edges: d.Edges})
	}
	return cs
}

// checkOpeningHours flags a node whose timing window falls outside
// details.openingHours (expected as "HH:mm-HH:mm"), a best-effort check
// since openingHours is agent-supplied free-form data.
func checkOpeningHours(n *itinerary.Node) string {
	hours, ok := n.Details["openingHours"].(string)
	if !ok || hours == "" || n.Timing.StartTime == "" {
		return ""
	}
	var openH, openM, closeH, closeM int
	if _, err := fmt.Sscanf(hours, "%d:%d-%d:%d", &openH, &openM, &closeH, &closeM); err != nil {
		return ""
	}
	start, err := time.Parse(time.RFC3339, n.Timing.StartTime)
	if err != nil {
		return ""
	}
	openMinutes := openH*60 + openM
	closeMinutes := closeH*60 + closeM
	startMinutes := start.Hour()*60 + start.Minute()
	if startMinutes < openMinutes || startMinutes > closeMinutes {
		return "closed at requested time"
	}
	return ""
}

func mergeWarning(details map[string]any, warning string) map[string]any {
	out := make(map[string]any, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out["warning"] = warning
	return out
}

// fillMissingTransit estimates a transit duration on edges with no recorded
// DurationMin: from coordinates when both endpoints have them (haversine
// distance over an assumed average urban speed), else a conservative
// default.
func fillMissingTransit(d *itinerary.Day) {
	const avgSpeedKmh = 25.0
	const conservativeDefaultMin = 20

	byID := make(map[string]*itinerary.Node, len(d.Nodes))
	for _, n := range d.Nodes {
		byID[n.ID] = n
	}
	for _, e := range d.Edges {
		if e.Transit.DurationMin > 0 {
			continue
		}
		from, fok := byID[e.From]
		to, tok := byID[e.To]
		if fok && tok && from.Location.Coordinates != nil && to.Location.Coordinates != nil {
			km := haversineKm(*from.Location.Coordinates, *to.Location.Coordinates)
			dist := km
			e.Transit.DistanceKm = &dist
			e.Transit.DurationMin = int(math.Ceil(km / avgSpeedKmh * 60))
			if e.Transit.Mode == "" {
				e.Transit.Mode = "drive"
			}
			continue
		}
		e.Transit.DurationMin = conservativeDefaultMin
		if e.Transit.Mode == "" {
			e.Transit.Mode = "unknown"
		}
	}
}

func haversineKm(a, b itinerary.Coordinates) float64 {
	const earthRadiusKm = 6371.0
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Asin(math.Sqrt(h))
}

func (a *EnrichmentAgent) Execute(ctx context.Context, req agentregistry.Request) (*agentregistry.Response, error) {
	it, ok := req.Params["itinerary"].(*itinerary.Itinerary)
	if !ok {
		return nil, fmt.Errorf("itinagents: EnrichmentAgent requires params[\"itinerary\"]")
	}
	a.progress(ctx, it.ID, "pipeline", "running", 60, "enriching")
	cs := a.Enrich(it.ID, it)
	// Enrichment always applies directly: it is pure computation over the
	// current document, not a user-reviewable proposal.
	resp, err := a.applyChangeSet(ctx, it.ID, cs, itinerary.UpdatedByAgent, true)
	if err != nil {
		a.progress(ctx, it.ID, "pipeline", "failed", 60, err.Error())
		return nil, err
	}
	a.progress(ctx, it.ID, "pipeline", "succeeded", 85, "enrichment complete")
	return resp, nil
}

var _ agentregistry.Agent = (*EnrichmentAgent)(nil)
