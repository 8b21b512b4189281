// Package change implements the Change Engine: the only component allowed
// to mutate an itinerary document. It exposes propose (preview without
// persisting), apply (persist with compare-and-swap retry), and undo
// (restore a prior revision), each applying a ChangeSet's ops under a fixed
// rule ordering: lock check, existence, time normalization, id generation,
// edges repair, audit, pacing recompute.
package change

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"goa.design/goa-ai/eventbus"
	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/store"
	"goa.design/goa-ai/telemetry"
)

// LockedNodeViolation reports that a ChangeSet targeted one or more locked
// nodes. No ops from the ChangeSet are applied when this error is returned.
type LockedNodeViolation struct {
	Nodes []string
}

func (e *LockedNodeViolation) Error() string {
	return fmt.Sprintf("change: locked node violation: %s", strings.Join(e.Nodes, ", "))
}

// InvalidChangeSet reports a malformed op: a bad shape or a reference to a
// node/day that does not exist.
type InvalidChangeSet struct {
	OpIndex int
	Reason  string
}

func (e *InvalidChangeSet) Error() string {
	return fmt.Sprintf("change: invalid change set at op %d: %s", e.OpIndex, e.Reason)
}

// ErrContested indicates apply lost a compare-and-swap race twice in a row:
// the caller should reload the itinerary and decide whether to retry.
var ErrContested = errors.New("change: contested")

// Result is the outcome of propose, apply, or undo.
type Result struct {
	Itinerary      *itinerary.Itinerary
	Diff           itinerary.Diff
	PreviewVersion int // set by Propose
	ToVersion      int // set by Apply/Undo
}

// PacingThresholds configures the day-level pacing classification performed
// during rule 7 (pacing recompute). Durations are in hours.
type PacingThresholds struct {
	RelaxedBelow  float64
	IntenseAbove  float64
}

func defaultPacingThresholds() PacingThresholds {
	return PacingThresholds{RelaxedBelow: 4, IntenseAbove: 8}
}

// Engine is the Change Engine: it loads, transforms, and persists itinerary
// documents, publishing PatchEvents for every successful apply/undo.
type Engine struct {
	store     store.Store
	bus       eventbus.Publisher
	logger    telemetry.Logger
	pacing    PacingThresholds
	retainRev int
}

// Option configures an Engine.
type Option func(*Engine)

// WithPacingThresholds overrides the default pacing thresholds (relaxed
// below 4h, intense above 8h).
func WithPacingThresholds(t PacingThresholds) Option {
	return func(e *Engine) { e.pacing = t }
}

// WithRevisionRetention overrides how many revisions PruneRevisions keeps
// per itinerary after each successful apply/undo. Defaults to 50.
func WithRevisionRetention(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.retainRev = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l telemetry.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New constructs a Change Engine over st, publishing patch events on bus.
func New(st store.Store, bus eventbus.Publisher, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		bus:       bus,
		logger:    telemetry.NewNoopLogger(),
		pacing:    defaultPacingThresholds(),
		retainRev: 50,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Propose loads the current itinerary, applies cs to an in-memory copy, and
// returns the proposed document and diff without persisting anything.
func (e *Engine) Propose(ctx context.Context, itineraryID string, cs itinerary.ChangeSet) (*Result, error) {
	it, version, err := e.store.Get(ctx, itineraryID)
	if err != nil {
		return nil, err
	}
	proposed := it.Clone()
	diff, err := applyChangeSet(proposed, cs, e.pacing, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return &Result{Itinerary: proposed, Diff: diff, PreviewVersion: version + 1}, nil
}

// Apply re-loads the current itinerary, applies cs, and persists the result
// under compare-and-swap on version. On a version conflict it reloads and
// retries exactly once before failing with ErrContested.
func (e *Engine) Apply(ctx context.Context, itineraryID string, cs itinerary.ChangeSet, author string) (*Result, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		it, version, err := e.store.Get(ctx, itineraryID)
		if err != nil {
			return nil, err
		}
		working := it.Clone()
		now := time.Now().UTC()
		diff, err := applyChangeSet(working, cs, e.pacing, now)
		if err != nil {
			return nil, err
		}
		working.UpdatedAt = now

		newVersion, err := e.store.Put(ctx, itineraryID, working, version)
		if err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		// A version written straight to the store (not through Apply) has no
		// revision yet; record it so Undo can return to it.
		if _, err := e.store.GetRevision(ctx, itineraryID, version); errors.Is(err, store.ErrNotFound) {
			if err := e.saveRevision(ctx, itineraryID, version, it, ""); err != nil {
				e.logger.Warn(ctx, "change: save base revision failed", "itinerary", itineraryID, "error", err)
			}
		}

		if err := e.saveRevision(ctx, itineraryID, newVersion, working, author); err != nil {
			e.logger.Warn(ctx, "change: save revision failed", "itinerary", itineraryID, "error", err)
		}

		evt := itinerary.PatchEvent{
			ItineraryID: itineraryID,
			FromVersion: version,
			ToVersion:   newVersion,
			Diff:        diff,
			UpdatedBy:   author,
			UpdatedAt:   now,
		}
		if err := e.bus.PublishPatch(ctx, evt); err != nil {
			e.logger.Warn(ctx, "change: publish patch failed", "itinerary", itineraryID, "error", err)
		}

		return &Result{Itinerary: working, Diff: diff, ToVersion: newVersion}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrContested, lastErr)
}

// Undo restores the itinerary to targetVersion (default current-1), bumping
// the version forward from the current document and publishing a PatchEvent
// whose diff reflects the rollback.
func (e *Engine) Undo(ctx context.Context, itineraryID string, targetVersion *int) (*Result, error) {
	it, version, err := e.store.Get(ctx, itineraryID)
	if err != nil {
		return nil, err
	}
	target := version - 1
	if targetVersion != nil {
		target = *targetVersion
	}
	rev, err := e.store.GetRevision(ctx, itineraryID, target)
	if err != nil {
		return nil, err
	}
	restored := rev.Snapshot.Clone()
	now := time.Now().UTC()
	restored.UpdatedAt = now

	diff := diffItineraries(it, restored)

	newVersion, err := e.store.Put(ctx, itineraryID, restored, version)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, fmt.Errorf("%w: %v", ErrContested, err)
		}
		return nil, err
	}

	if err := e.saveRevision(ctx, itineraryID, newVersion, restored, rev.Author); err != nil {
		e.logger.Warn(ctx, "change: save revision failed", "itinerary", itineraryID, "error", err)
	}

	evt := itinerary.PatchEvent{
		ItineraryID: itineraryID,
		FromVersion: version,
		ToVersion:   newVersion,
		Diff:        diff,
		Summary:     fmt.Sprintf("undo to version %d", target),
		UpdatedBy:   rev.Author,
		UpdatedAt:   now,
	}
	if err := e.bus.PublishPatch(ctx, evt); err != nil {
		e.logger.Warn(ctx, "change: publish patch failed", "itinerary", itineraryID, "error", err)
	}

	return &Result{Itinerary: restored, Diff: diff, ToVersion: newVersion}, nil
}

func (e *Engine) saveRevision(ctx context.Context, itineraryID string, version int, it *itinerary.Itinerary, author string) error {
	rev := itinerary.Revision{
		ItineraryID: itineraryID,
		Version:     version,
		Snapshot:    *it.Clone(),
		Author:      author,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.SaveRevision(ctx, itineraryID, version, rev); err != nil {
		return err
	}
	return e.store.PruneRevisions(ctx, itineraryID, e.retainRev)
}

// diffItineraries computes a best-effort diff between two full snapshots,
// used by Undo (which does not apply discrete ops). Nodes present in both
// with any field difference are reported as updated.
func diffItineraries(before, after *itinerary.Itinerary) itinerary.Diff {
	var diff itinerary.Diff
	beforeIdx := indexNodes(before)
	afterIdx := indexNodes(after)

	for id, bn := range beforeIdx {
		if _, ok := afterIdx[id]; !ok {
			diff.Removed = append(diff.Removed, itinerary.RemovedNode{ID: id, Day: bn.day})
		}
	}
	for id, an := range afterIdx {
		bn, ok := beforeIdx[id]
		if !ok {
			diff.Added = append(diff.Added, itinerary.AddedNode{ID: id, Day: an.day})
			continue
		}
		if fields := changedFields(bn.node, an.node); len(fields) > 0 {
			diff.Updated = append(diff.Updated, itinerary.UpdatedNode{ID: id, Fields: fields})
		}
	}
	sort.Slice(diff.Added, func(i, j int) bool { return diff.Added[i].ID < diff.Added[j].ID })
	sort.Slice(diff.Removed, func(i, j int) bool { return diff.Removed[i].ID < diff.Removed[j].ID })
	sort.Slice(diff.Updated, func(i, j int) bool { return diff.Updated[i].ID < diff.Updated[j].ID })
	return diff
}

type dayNode struct {
	node *itinerary.Node
	day  int
}

func indexNodes(it *itinerary.Itinerary) map[string]dayNode {
	out := make(map[string]dayNode)
	for _, d := range it.Days {
		for _, n := range d.Nodes {
			out[n.ID] = dayNode{node: n, day: d.DayNumber}
		}
	}
	return out
}
