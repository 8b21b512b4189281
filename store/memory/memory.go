// Package memory provides an in-memory implementation of the itinerary
// store. It is suitable for development, testing, and single-process
// deployments where persistence across restarts is not required.
package memory

import (
	"context"
	"sort"
	"sync"

	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/store"
)

// Store is an in-memory implementation of store.Store. It is safe for
// concurrent use.
type Store struct {
	mu sync.RWMutex

	docs      map[string]*docEntry
	metadata  map[string]map[string]itinerary.TripMetadata // owner -> itineraryID -> meta
	revisions map[string][]itinerary.Revision              // itineraryID -> revisions, oldest first
	tasks     map[string]*itinerary.Task
	idemKeys  map[string]string // idempotencyKey -> taskID

	subs   map[int]taskSub
	nextID int
}

type docEntry struct {
	it      *itinerary.Itinerary
	version int
}

type taskSub struct {
	filter store.TaskFilter
	cb     store.TaskCallback
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		docs:      make(map[string]*docEntry),
		metadata:  make(map[string]map[string]itinerary.TripMetadata),
		revisions: make(map[string][]itinerary.Revision),
		tasks:     make(map[string]*itinerary.Task),
		idemKeys:  make(map[string]string),
		subs:      make(map[int]taskSub),
	}
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Get loads the current itinerary and its version.
func (s *Store) Get(ctx context.Context, id string) (*itinerary.Itinerary, int, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[id]
	if !ok {
		return nil, 0, store.ErrNotFound
	}
	return e.it.Clone(), e.version, nil
}

// Put persists it under id via compare-and-swap on expectedVersion.
func (s *Store) Put(ctx context.Context, id string, it *itinerary.Itinerary, expectedVersion int) (int, error) {
	if err := checkCtx(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.docs[id]
	current := 0
	if exists {
		current = e.version
	}
	if current != expectedVersion {
		return 0, store.ErrVersionConflict
	}
	newVersion := expectedVersion + 1
	stored := it.Clone()
	stored.Version = newVersion
	s.docs[id] = &docEntry{it: stored, version: newVersion}
	return newVersion, nil
}

// ListByOwner returns the trip metadata index entries for owner.
func (s *Store) ListByOwner(ctx context.Context, owner string) ([]itinerary.TripMetadata, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.metadata[owner]
	out := make([]itinerary.TripMetadata, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItineraryID < out[j].ItineraryID })
	return out, nil
}

// PutMetadata upserts the trip metadata index entry for an itinerary.
func (s *Store) PutMetadata(ctx context.Context, owner string, meta itinerary.TripMetadata) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.metadata[owner]
	if !ok {
		byID = make(map[string]itinerary.TripMetadata)
		s.metadata[owner] = byID
	}
	byID[meta.ItineraryID] = meta
	return nil
}

// SaveRevision persists an immutable snapshot at the given version.
func (s *Store) SaveRevision(ctx context.Context, id string, version int, rev itinerary.Revision) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revisions[id] = append(s.revisions[id], rev)
	return nil
}

// GetRevision loads the snapshot recorded for id at version.
func (s *Store) GetRevision(ctx context.Context, id string, version int) (itinerary.Revision, error) {
	if err := checkCtx(ctx); err != nil {
		return itinerary.Revision{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.revisions[id] {
		if r.Version == version {
			return r, nil
		}
	}
	return itinerary.Revision{}, store.ErrNotFound
}

// ListRevisions returns up to limit most recent revisions for id, newest first.
func (s *Store) ListRevisions(ctx context.Context, id string, limit int) ([]itinerary.Revision, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.revisions[id]
	out := make([]itinerary.Revision, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// PruneRevisions deletes revisions for id beyond the most recent retain versions.
func (s *Store) PruneRevisions(ctx context.Context, id string, retain int) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.revisions[id]
	if len(all) > retain {
		s.revisions[id] = append([]itinerary.Revision(nil), all[len(all)-retain:]...)
	}
	return nil
}

// CreateTask persists a new pending task, deduplicating by IdempotencyKey.
func (s *Store) CreateTask(ctx context.Context, task *itinerary.Task) (string, error) {
	if err := checkCtx(ctx); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.IdempotencyKey != "" {
		if existingID, ok := s.idemKeys[task.IdempotencyKey]; ok {
			return existingID, nil
		}
	}
	clone := *task
	s.tasks[task.ID] = &clone
	if task.IdempotencyKey != "" {
		s.idemKeys[task.IdempotencyKey] = task.ID
	}
	s.notify(&clone)
	return task.ID, nil
}

// GetTask loads a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*itinerary.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *t
	return &clone, nil
}

// UpdateTask atomically replaces the stored task if its current status
// matches expectedStatus.
func (s *Store) UpdateTask(ctx context.Context, task *itinerary.Task, expectedStatus itinerary.TaskStatus) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tasks[task.ID]
	if !ok {
		return store.ErrNotFound
	}
	if existing.Status != expectedStatus {
		return store.ErrVersionConflict
	}
	clone := *task
	s.tasks[task.ID] = &clone
	s.notify(&clone)
	return nil
}

// ListTasks returns tasks matching filter.
func (s *Store) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*itinerary.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*itinerary.Task, 0)
	for _, t := range s.tasks {
		if matches(t, filter) {
			clone := *t
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SubscribeTasks registers cb for task state changes matching filter.
func (s *Store) SubscribeTasks(ctx context.Context, filter store.TaskFilter, cb store.TaskCallback) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = taskSub{filter: filter, cb: cb}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}, nil
}

// notify fans task out to subscribers whose filter matches. Must be called
// with s.mu held.
func (s *Store) notify(t *itinerary.Task) {
	for _, sub := range s.subs {
		if matches(t, sub.filter) {
			clone := *t
			go sub.cb(&clone)
		}
	}
}

func matches(t *itinerary.Task, f store.TaskFilter) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.ItineraryID != "" && t.ItineraryID != f.ItineraryID {
		return false
	}
	return true
}
