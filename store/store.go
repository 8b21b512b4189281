// Package store defines the persistence layer for the itinerary engine: a
// per-itinerary document with compare-and-swap versioning, a revisions
// subcollection, a per-owner trip metadata index, and a durable tasks
// collection. Available implementations:
//
//   - memory: in-memory store for development and testing
//   - mongo: MongoDB-backed store for production persistence
//
// To add a new backend, implement Store and return the sentinel errors below
// for the conditions they name.
package store

import (
	"context"
	"errors"

	"goa.design/goa-ai/itinerary"
)

var (
	// ErrNotFound indicates the requested itinerary, revision, or task does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict indicates a Put's expectedVersion did not match the
	// stored version. Callers must reload and retry.
	ErrVersionConflict = errors.New("version conflict")
	// ErrTransientIO indicates a retryable infrastructure failure.
	ErrTransientIO = errors.New("transient io error")
)

// TaskFilter narrows TaskStore.SubscribeTasks/ListTasks results. Zero-valued
// fields are treated as unconstrained.
type TaskFilter struct {
	Status      itinerary.TaskStatus
	Type        string
	ItineraryID string
}

// TaskCallback receives a task whenever it transitions to a new state.
type TaskCallback func(task *itinerary.Task)

// Store is the persistence layer for itineraries, revisions, trip metadata,
// and durable tasks. Implementations must be safe for concurrent use.
type Store interface {
	// Get loads the current itinerary document and its version. Returns
	// ErrNotFound if no document exists for id.
	Get(ctx context.Context, id string) (*itinerary.Itinerary, int, error)

	// Put persists it under id if the currently stored version equals
	// expectedVersion (or if no document exists yet and expectedVersion is 0),
	// then returns the new version. Returns ErrVersionConflict if the stored
	// version has moved on.
	Put(ctx context.Context, id string, it *itinerary.Itinerary, expectedVersion int) (int, error)

	// ListByOwner returns the trip metadata index entries for owner.
	ListByOwner(ctx context.Context, owner string) ([]itinerary.TripMetadata, error)

	// PutMetadata upserts the trip metadata index entry for an itinerary.
	PutMetadata(ctx context.Context, owner string, meta itinerary.TripMetadata) error

	// SaveRevision persists an immutable snapshot at the given version. Callers
	// are responsible for retention (see Store.PruneRevisions).
	SaveRevision(ctx context.Context, id string, version int, rev itinerary.Revision) error

	// GetRevision loads the snapshot recorded for id at version. Returns
	// ErrNotFound if no such revision exists.
	GetRevision(ctx context.Context, id string, version int) (itinerary.Revision, error)

	// ListRevisions returns up to limit most recent revisions for id, newest first.
	ListRevisions(ctx context.Context, id string, limit int) ([]itinerary.Revision, error)

	// PruneRevisions deletes revisions for id beyond the most recent retain
	// versions. Callers (the change engine) call this after SaveRevision.
	PruneRevisions(ctx context.Context, id string, retain int) error

	TaskStore
}

// TaskStore is the durable task queue persistence contract, embedded in Store.
type TaskStore interface {
	// CreateTask persists a new pending task. If a task with the same
	// IdempotencyKey already exists, CreateTask returns that task's id instead
	// of creating a duplicate.
	CreateTask(ctx context.Context, task *itinerary.Task) (string, error)

	// GetTask loads a task by id. Returns ErrNotFound if missing.
	GetTask(ctx context.Context, id string) (*itinerary.Task, error)

	// UpdateTask atomically replaces the stored task, provided its Status
	// still matches expectedStatus. Returns ErrVersionConflict if another
	// worker already transitioned the task.
	UpdateTask(ctx context.Context, task *itinerary.Task, expectedStatus itinerary.TaskStatus) error

	// ListTasks returns tasks matching filter.
	ListTasks(ctx context.Context, filter TaskFilter) ([]*itinerary.Task, error)

	// SubscribeTasks registers cb to be invoked whenever a task matching filter
	// changes state. Returns an unsubscribe function.
	SubscribeTasks(ctx context.Context, filter TaskFilter, cb TaskCallback) (func(), error)
}
