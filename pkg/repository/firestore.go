package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mneme/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	memoryCollection = "memories"
	distanceField    = "vector_distance"
)

// Firestore implements Store on a Firestore database with vector search.
// Records live in a single collection keyed by record id; Nearest uses
// FindNearest with cosine distance, which requires a vector index on the
// embedding field.
type Firestore struct {
	client *firestore.Client
}

var _ Store = (*Firestore)(nil)

// NewFirestore creates a Firestore-backed store.
func NewFirestore(ctx context.Context, projectID, databaseID string) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	return &Firestore{client: client}, nil
}

// memoryDoc is the Firestore document layout for a MemoryRecord. The
// embedding is stored as Vector32 so FindNearest can index it.
type memoryDoc struct {
	ID         string             `firestore:"id"`
	OwnerID    string             `firestore:"owner_id"`
	Content    string             `firestore:"content"`
	Embedding  firestore.Vector32 `firestore:"embedding"`
	Confidence float64            `firestore:"confidence"`
	Status     string             `firestore:"status"`
	CreatedAt  time.Time          `firestore:"created_at"`
	UpdatedAt  time.Time          `firestore:"updated_at"`
	History    []historyDoc       `firestore:"history"`
	SourceRefs []string           `firestore:"source_refs"`
}

type historyDoc struct {
	Content   string    `firestore:"content"`
	UpdatedAt time.Time `firestore:"updated_at"`
	Reason    string    `firestore:"reason"`
}

func toDoc(record *model.MemoryRecord) *memoryDoc {
	doc := &memoryDoc{
		ID:         string(record.ID),
		OwnerID:    string(record.OwnerID),
		Content:    record.Content,
		Embedding:  firestore.Vector32(record.Embedding),
		Confidence: record.Confidence,
		Status:     string(record.Status),
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
		SourceRefs: record.SourceRefs,
	}
	for _, entry := range record.History {
		doc.History = append(doc.History, historyDoc(entry))
	}
	return doc
}

func (d *memoryDoc) toRecord() *model.MemoryRecord {
	record := &model.MemoryRecord{
		ID:         model.MemoryID(d.ID),
		OwnerID:    model.OwnerID(d.OwnerID),
		Content:    d.Content,
		Embedding:  []float32(d.Embedding),
		Confidence: d.Confidence,
		Status:     model.Status(d.Status),
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
		SourceRefs: d.SourceRefs,
	}
	for _, entry := range d.History {
		record.History = append(record.History, model.HistoryEntry(entry))
	}
	return record
}

// wrapFirestoreErr maps gRPC status codes to domain sentinels so callers can
// pick a retry strategy with errors.Is.
func wrapFirestoreErr(err error, msg string, values ...goerr.Option) error {
	switch status.Code(err) {
	case codes.NotFound:
		return goerr.Wrap(model.ErrMemoryNotFound, msg, values...)
	case codes.AlreadyExists:
		return goerr.Wrap(model.ErrDuplicateID, msg, values...)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return goerr.Wrap(model.ErrStoreUnavailable, msg, append(values, goerr.V("cause", err))...)
	default:
		return goerr.Wrap(err, msg, values...)
	}
}

func (s *Firestore) Put(ctx context.Context, record *model.MemoryRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	ref := s.client.Collection(memoryCollection).Doc(string(record.ID))
	if _, err := ref.Create(ctx, toDoc(record)); err != nil {
		return wrapFirestoreErr(err, "failed to create memory document", goerr.V("id", record.ID))
	}

	return nil
}

func (s *Firestore) Get(ctx context.Context, owner model.OwnerID, id model.MemoryID) (*model.MemoryRecord, error) {
	snap, err := s.client.Collection(memoryCollection).Doc(string(id)).Get(ctx)
	if err != nil {
		return nil, wrapFirestoreErr(err, "failed to get memory document", goerr.V("id", id))
	}

	var doc memoryDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode memory document", goerr.V("id", id))
	}

	if doc.OwnerID != string(owner) {
		return nil, goerr.Wrap(model.ErrMemoryNotFound, "record belongs to another owner", goerr.V("id", id))
	}

	return doc.toRecord(), nil
}

func (s *Firestore) Update(ctx context.Context, record *model.MemoryRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	// Set replaces the whole document in one write, which Firestore applies
	// atomically: readers see the previous or the new version.
	ref := s.client.Collection(memoryCollection).Doc(string(record.ID))
	if _, err := ref.Set(ctx, toDoc(record)); err != nil {
		return wrapFirestoreErr(err, "failed to update memory document", goerr.V("id", record.ID))
	}

	return nil
}

func (s *Firestore) Nearest(ctx context.Context, owner model.OwnerID, vector []float32, k int, minSim float64) ([]model.Candidate, error) {
	if k < 1 {
		return nil, nil
	}

	query := s.client.Collection(memoryCollection).
		Where("owner_id", "==", string(owner)).
		Where("status", "==", string(model.StatusActive)).
		FindNearest("embedding", firestore.Vector32(vector), k, firestore.DistanceMeasureCosine,
			&firestore.FindNearestOptions{
				DistanceResultField: distanceField,
			})

	iter := query.Documents(ctx)
	defer iter.Stop()

	var candidates []model.Candidate
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, wrapFirestoreErr(err, "failed to run vector search", goerr.V("owner_id", owner))
		}

		var doc memoryDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory document")
		}

		// Cosine distance is in [0,2]; 1-d/2 yields normalized similarity.
		sim := 1.0
		if distance, ok := snap.Data()[distanceField].(float64); ok {
			sim = 1 - distance/2
		}

		if sim < minSim {
			continue
		}

		candidates = append(candidates, model.Candidate{
			Record:     doc.toRecord(),
			Similarity: sim,
		})
	}

	return candidates, nil
}

func (s *Firestore) ListByOwner(ctx context.Context, owner model.OwnerID, statuses ...model.Status) ([]*model.MemoryRecord, error) {
	query := s.client.Collection(memoryCollection).
		Where("owner_id", "==", string(owner)).
		OrderBy("created_at", firestore.Desc)

	if len(statuses) > 0 {
		values := make([]string, 0, len(statuses))
		for _, st := range statuses {
			values = append(values, string(st))
		}
		query = query.Where("status", "in", values)
	}

	return s.collect(query.Documents(ctx))
}

func (s *Firestore) SweepArchivable(ctx context.Context, olderThan time.Time) ([]*model.MemoryRecord, error) {
	query := s.client.Collection(memoryCollection).
		Where("status", "==", string(model.StatusSuperseded)).
		Where("updated_at", "<", olderThan)

	return s.collect(query.Documents(ctx))
}

func (s *Firestore) collect(iter *firestore.DocumentIterator) ([]*model.MemoryRecord, error) {
	defer iter.Stop()

	var records []*model.MemoryRecord
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, wrapFirestoreErr(err, "failed to iterate memory documents")
		}

		var doc memoryDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory document")
		}
		records = append(records, doc.toRecord())
	}

	return records, nil
}

func (s *Firestore) Close() error {
	return s.client.Close()
}
