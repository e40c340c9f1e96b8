package repository

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mneme/pkg/model"
	chromem "github.com/philippgille/chromem-go"
)

// Chromem implements Store on chromem-go, a pure-Go embedded vector database.
// Each owner gets a dedicated collection so similarity queries are isolated
// by construction. The full record is serialized into the document content;
// status is mirrored into document metadata for query filtering.
//
// chromem exposes no document enumeration, so the store keeps an id index
// per owner. In persistent mode the index is written as a JSON sidecar next
// to the database directory and reloaded on open.
type Chromem struct {
	db        *chromem.DB
	indexPath string

	mu  sync.Mutex
	ids map[model.OwnerID][]model.MemoryID
}

var _ Store = (*Chromem)(nil)

// NewChromem opens a persistent chromem database at path. An empty path
// keeps everything in memory.
func NewChromem(path string) (*Chromem, error) {
	s := &Chromem{
		ids: make(map[model.OwnerID][]model.MemoryID),
	}

	if path == "" {
		s.db = chromem.NewDB()
		return s, nil
	}

	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open chromem database", goerr.V("path", path))
	}
	s.db = db
	s.indexPath = filepath.Join(path, "owner_index.json")

	if err := s.loadIndex(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Chromem) loadIndex() error {
	data, err := os.ReadFile(s.indexPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return goerr.Wrap(err, "failed to read owner index", goerr.V("path", s.indexPath))
	}

	if err := json.Unmarshal(data, &s.ids); err != nil {
		return goerr.Wrap(err, "failed to parse owner index", goerr.V("path", s.indexPath))
	}
	return nil
}

// saveIndex persists the id index. Callers hold s.mu.
func (s *Chromem) saveIndex() error {
	if s.indexPath == "" {
		return nil
	}

	data, err := json.Marshal(s.ids)
	if err != nil {
		return goerr.Wrap(err, "failed to serialize owner index")
	}

	if err := os.WriteFile(s.indexPath, data, 0600); err != nil {
		return goerr.Wrap(err, "failed to write owner index", goerr.V("path", s.indexPath))
	}
	return nil
}

func (s *Chromem) collection(owner model.OwnerID) (*chromem.Collection, error) {
	col, err := s.db.GetOrCreateCollection("owner_"+string(owner), nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open collection", goerr.V("owner_id", owner))
	}
	return col, nil
}

func toDocument(record *model.MemoryRecord) (chromem.Document, error) {
	content, err := json.Marshal(record)
	if err != nil {
		return chromem.Document{}, goerr.Wrap(err, "failed to serialize record", goerr.V("id", record.ID))
	}

	return chromem.Document{
		ID:        string(record.ID),
		Content:   string(content),
		Embedding: record.Embedding,
		Metadata: map[string]string{
			"status": string(record.Status),
		},
	}, nil
}

func fromDocumentContent(content string) (*model.MemoryRecord, error) {
	var record model.MemoryRecord
	if err := json.Unmarshal([]byte(content), &record); err != nil {
		return nil, goerr.Wrap(err, "failed to deserialize record")
	}
	return &record, nil
}

func (s *Chromem) Put(ctx context.Context, record *model.MemoryRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	col, err := s.collection(record.OwnerID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := col.GetByID(ctx, string(record.ID)); err == nil {
		return goerr.Wrap(model.ErrDuplicateID, "record already exists", goerr.V("id", record.ID))
	}

	doc, err := toDocument(record)
	if err != nil {
		return err
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to add document", goerr.V("id", record.ID))
	}

	s.ids[record.OwnerID] = append(s.ids[record.OwnerID], record.ID)
	return s.saveIndex()
}

func (s *Chromem) Get(ctx context.Context, owner model.OwnerID, id model.MemoryID) (*model.MemoryRecord, error) {
	col, err := s.collection(owner)
	if err != nil {
		return nil, err
	}

	doc, err := col.GetByID(ctx, string(id))
	if err != nil {
		return nil, goerr.Wrap(model.ErrMemoryNotFound, "no such record", goerr.V("owner_id", owner), goerr.V("id", id))
	}

	return fromDocumentContent(doc.Content)
}

func (s *Chromem) Update(ctx context.Context, record *model.MemoryRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	col, err := s.collection(record.OwnerID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := col.GetByID(ctx, string(record.ID)); err != nil {
		return goerr.Wrap(model.ErrMemoryNotFound, "no such record", goerr.V("id", record.ID))
	}

	doc, err := toDocument(record)
	if err != nil {
		return err
	}

	// AddDocument replaces the stored document with the same id in one call.
	if err := col.AddDocument(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to replace document", goerr.V("id", record.ID))
	}

	return nil
}

func (s *Chromem) Nearest(ctx context.Context, owner model.OwnerID, vector []float32, k int, minSim float64) ([]model.Candidate, error) {
	if k < 1 {
		return nil, nil
	}

	col, err := s.collection(owner)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults beyond the collection size.
	if count := col.Count(); count < k {
		k = count
	}
	if k == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, k, map[string]string{
		"status": string(model.StatusActive),
	}, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query collection", goerr.V("owner_id", owner))
	}

	var candidates []model.Candidate
	for _, result := range results {
		// chromem reports raw cosine similarity in [-1,1].
		sim := (float64(result.Similarity) + 1) / 2
		if sim < minSim {
			continue
		}

		record, err := fromDocumentContent(result.Content)
		if err != nil {
			return nil, err
		}

		candidates = append(candidates, model.Candidate{
			Record:     record,
			Similarity: sim,
		})
	}

	return candidates, nil
}

func (s *Chromem) ListByOwner(ctx context.Context, owner model.OwnerID, statuses ...model.Status) ([]*model.MemoryRecord, error) {
	records, err := s.ownerRecords(ctx, owner, func(record *model.MemoryRecord) bool {
		return matchStatus(record.Status, statuses)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	return records, nil
}

func (s *Chromem) SweepArchivable(ctx context.Context, olderThan time.Time) ([]*model.MemoryRecord, error) {
	s.mu.Lock()
	owners := make([]model.OwnerID, 0, len(s.ids))
	for owner := range s.ids {
		owners = append(owners, owner)
	}
	s.mu.Unlock()

	var records []*model.MemoryRecord
	for _, owner := range owners {
		found, err := s.ownerRecords(ctx, owner, func(record *model.MemoryRecord) bool {
			return record.Status == model.StatusSuperseded && record.UpdatedAt.Before(olderThan)
		})
		if err != nil {
			return nil, err
		}
		records = append(records, found...)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.Before(records[j].UpdatedAt)
	})

	return records, nil
}

func (s *Chromem) ownerRecords(ctx context.Context, owner model.OwnerID, keep func(*model.MemoryRecord) bool) ([]*model.MemoryRecord, error) {
	col, err := s.collection(owner)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	ids := make([]model.MemoryID, len(s.ids[owner]))
	copy(ids, s.ids[owner])
	s.mu.Unlock()

	var records []*model.MemoryRecord
	for _, id := range ids {
		doc, err := col.GetByID(ctx, string(id))
		if err != nil {
			continue
		}

		record, err := fromDocumentContent(doc.Content)
		if err != nil {
			return nil, err
		}
		if keep(record) {
			records = append(records, record)
		}
	}

	return records, nil
}

func (s *Chromem) Close() error {
	return nil
}
