// Package mongo provides a MongoDB-backed implementation of store.Store. It
// keeps itinerary documents, revisions, per-owner trip metadata and tasks in
// four collections: itineraries, itinerary_revisions (keyed by itineraryId
// and version), trip_metadata (keyed by owner and itineraryId), and tasks.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/goa-ai/itinerary"
	"goa.design/goa-ai/store"
)

const (
	defaultDatabase          = "itineraries"
	itinerariesCollection    = "itineraries"
	revisionsCollection      = "itinerary_revisions"
	metadataCollection       = "trip_metadata"
	tasksCollection          = "tasks"
	defaultOpTimeout         = 5 * time.Second
)

// Options configures the Mongo-backed store.
type Options struct {
	// Client is a connected Mongo client. Required.
	Client *mongodriver.Client
	// Database overrides the default database name.
	Database string
	// Timeout bounds each operation. Defaults to 5s.
	Timeout time.Duration
}

// Store implements store.Store on top of MongoDB.
type Store struct {
	itineraries *mongodriver.Collection
	revisions   *mongodriver.Collection
	metadata    *mongodriver.Collection
	tasks       *mongodriver.Collection
	timeout     time.Duration
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New builds a Store backed by the given Mongo client, creating required
// indexes if they do not already exist.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	db := opts.Database
	if db == "" {
		db = defaultDatabase
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	s := &Store{
		itineraries: opts.Client.Database(db).Collection(itinerariesCollection),
		revisions:   opts.Client.Database(db).Collection(revisionsCollection),
		metadata:    opts.Client.Database(db).Collection(metadataCollection),
		tasks:       opts.Client.Database(db).Collection(tasksCollection),
		timeout:     timeout,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.revisions.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "itineraryId", Value: 1}, {Key: "version", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := s.metadata.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "owner", Value: 1}, {Key: "itineraryId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := s.tasks.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "idempotencyKey", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true),
	}); err != nil {
		return err
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

type itineraryDoc struct {
	ID        string              `bson:"_id"`
	Version   int                 `bson:"version"`
	Owner     string              `bson:"owner"`
	Itinerary itinerary.Itinerary `bson:"itinerary"`
	UpdatedAt time.Time           `bson:"updatedAt"`
}

// Get loads the current itinerary document and its version.
func (s *Store) Get(ctx context.Context, id string) (*itinerary.Itinerary, int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc itineraryDoc
	if err := s.itineraries.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, 0, store.ErrNotFound
		}
		return nil, 0, err
	}
	it := doc.Itinerary
	return &it, doc.Version, nil
}

// Put persists it under id via compare-and-swap on expectedVersion.
func (s *Store) Put(ctx context.Context, id string, it *itinerary.Itinerary, expectedVersion int) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	newVersion := expectedVersion + 1
	now := time.Now().UTC()
	snapshot := *it
	snapshot.Version = newVersion

	if expectedVersion == 0 {
		// First write for this id: insert only if absent.
		_, err := s.itineraries.InsertOne(ctx, itineraryDoc{
			ID:        id,
			Version:   newVersion,
			Owner:     it.Owner,
			Itinerary: snapshot,
			UpdatedAt: now,
		})
		if mongodriver.IsDuplicateKeyError(err) {
			return 0, store.ErrVersionConflict
		}
		if err != nil {
			return 0, err
		}
		return newVersion, nil
	}

	res, err := s.itineraries.UpdateOne(ctx,
		bson.M{"_id": id, "version": expectedVersion},
		bson.M{"$set": bson.M{
			"version":   newVersion,
			"owner":     it.Owner,
			"itinerary": snapshot,
			"updatedAt": now,
		}})
	if err != nil {
		return 0, err
	}
	if res.MatchedCount == 0 {
		return 0, store.ErrVersionConflict
	}
	return newVersion, nil
}

type metadataDoc struct {
	Owner       string `bson:"owner"`
	ItineraryID string `bson:"itineraryId"`
	Destination string `bson:"destination"`
	StartDate   string `bson:"startDate"`
	EndDate     string `bson:"endDate"`
	Status      string `bson:"status"`
}

// ListByOwner returns the trip metadata index entries for owner.
func (s *Store) ListByOwner(ctx context.Context, owner string) ([]itinerary.TripMetadata, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.metadata.Find(ctx, bson.M{"owner": owner}, options.Find().SetSort(bson.D{{Key: "itineraryId", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()
	var out []itinerary.TripMetadata
	for cur.Next(ctx) {
		var doc metadataDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, itinerary.TripMetadata{
			Owner: doc.Owner, ItineraryID: doc.ItineraryID, Destination: doc.Destination,
			StartDate: doc.StartDate, EndDate: doc.EndDate, Status: doc.Status,
		})
	}
	return out, cur.Err()
}

// PutMetadata upserts the trip metadata index entry for an itinerary.
func (s *Store) PutMetadata(ctx context.Context, owner string, meta itinerary.TripMetadata) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.metadata.UpdateOne(ctx,
		bson.M{"owner": owner, "itineraryId": meta.ItineraryID},
		bson.M{"$set": metadataDoc{
			Owner: owner, ItineraryID: meta.ItineraryID, Destination: meta.Destination,
			StartDate: meta.StartDate, EndDate: meta.EndDate, Status: meta.Status,
		}},
		options.UpdateOne().SetUpsert(true))
	return err
}

type revisionDoc struct {
	ItineraryID string              `bson:"itineraryId"`
	Version     int                 `bson:"version"`
	Snapshot    itinerary.Itinerary `bson:"snapshot"`
	Author      string              `bson:"author"`
	CreatedAt   time.Time           `bson:"createdAt"`
}

// SaveRevision persists an immutable snapshot at the given version.
func (s *Store) SaveRevision(ctx context.Context, id string, version int, rev itinerary.Revision) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.revisions.InsertOne(ctx, revisionDoc{
		ItineraryID: id, Version: version, Snapshot: rev.Snapshot, Author: rev.Author, CreatedAt: rev.CreatedAt,
	})
	return err
}

// GetRevision loads the snapshot recorded for id at version.
func (s *Store) GetRevision(ctx context.Context, id string, version int) (itinerary.Revision, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc revisionDoc
	if err := s.revisions.FindOne(ctx, bson.M{"itineraryId": id, "version": version}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return itinerary.Revision{}, store.ErrNotFound
		}
		return itinerary.Revision{}, err
	}
	return itinerary.Revision{ItineraryID: doc.ItineraryID, Version: doc.Version, Snapshot: doc.Snapshot, Author: doc.Author, CreatedAt: doc.CreatedAt}, nil
}

// ListRevisions returns up to limit most recent revisions for id, newest first.
func (s *Store) ListRevisions(ctx context.Context, id string, limit int) ([]itinerary.Revision, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.revisions.Find(ctx, bson.M{"itineraryId": id},
		options.Find().SetSort(bson.D{{Key: "version", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()
	var out []itinerary.Revision
	for cur.Next(ctx) {
		var doc revisionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, itinerary.Revision{ItineraryID: doc.ItineraryID, Version: doc.Version, Snapshot: doc.Snapshot, Author: doc.Author, CreatedAt: doc.CreatedAt})
	}
	return out, cur.Err()
}

// PruneRevisions deletes revisions for id beyond the most recent retain versions.
func (s *Store) PruneRevisions(ctx context.Context, id string, retain int) error {
	kept, err := s.ListRevisions(ctx, id, retain)
	if err != nil || len(kept) == 0 {
		return err
	}
	floor := kept[len(kept)-1].Version
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err = s.revisions.DeleteMany(ctx, bson.M{"itineraryId": id, "version": bson.M{"$lt": floor}})
	return err
}

// CreateTask persists a new pending task, deduplicating by IdempotencyKey.
func (s *Store) CreateTask(ctx context.Context, task *itinerary.Task) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if task.IdempotencyKey != "" {
		var existing itinerary.Task
		err := s.tasks.FindOne(ctx, bson.M{"idempotencyKey": task.IdempotencyKey}).Decode(&existing)
		if err == nil {
			return existing.ID, nil
		}
		if !errors.Is(err, mongodriver.ErrNoDocuments) {
			return "", err
		}
	}
	if _, err := s.tasks.InsertOne(ctx, task); err != nil {
		return "", err
	}
	return task.ID, nil
}

// GetTask loads a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*itinerary.Task, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var t itinerary.Task
	if err := s.tasks.FindOne(ctx, bson.M{"_id": id}).Decode(&t); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// UpdateTask atomically replaces the stored task if its status matches expectedStatus.
func (s *Store) UpdateTask(ctx context.Context, task *itinerary.Task, expectedStatus itinerary.TaskStatus) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.tasks.ReplaceOne(ctx, bson.M{"_id": task.ID, "status": expectedStatus}, task)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrVersionConflict
	}
	return nil
}

// ListTasks returns tasks matching filter.
func (s *Store) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*itinerary.Task, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	q := bson.M{}
	if filter.Status != "" {
		q["status"] = filter.Status
	}
	if filter.Type != "" {
		q["type"] = filter.Type
	}
	if filter.ItineraryID != "" {
		q["itineraryId"] = filter.ItineraryID
	}
	cur, err := s.tasks.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()
	var out []*itinerary.Task
	for cur.Next(ctx) {
		var t itinerary.Task
		if err := cur.Decode(&t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, cur.Err()
}

// SubscribeTasks is not supported by the Mongo backend directly; production
// deployments should run the sweep (tasks.Queue) against change streams or a
// polling loop external to this package. It returns an error so callers fail
// fast instead of silently missing notifications.
func (s *Store) SubscribeTasks(ctx context.Context, filter store.TaskFilter, cb store.TaskCallback) (func(), error) {
	return nil, errors.New("mongo store: subscribeTasks requires an external change-stream watcher; poll ListTasks instead")
}
