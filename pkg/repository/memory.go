package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mneme/pkg/model"
)

// Memory is an in-process Store backed by a map and an exhaustive cosine
// scan. It is the default backend for local runs and tests.
type Memory struct {
	mu      sync.RWMutex
	records map[model.MemoryID]*model.MemoryRecord
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[model.MemoryID]*model.MemoryRecord),
	}
}

func (s *Memory) Put(ctx context.Context, record *model.MemoryRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return goerr.Wrap(model.ErrDuplicateID, "record already exists", goerr.V("id", record.ID))
	}

	s.records[record.ID] = record.Clone()
	return nil
}

func (s *Memory) Get(ctx context.Context, owner model.OwnerID, id model.MemoryID) (*model.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[id]
	if !exists || record.OwnerID != owner {
		return nil, goerr.Wrap(model.ErrMemoryNotFound, "no such record", goerr.V("owner_id", owner), goerr.V("id", id))
	}

	return record.Clone(), nil
}

func (s *Memory) Update(ctx context.Context, record *model.MemoryRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.records[record.ID]
	if !exists || current.OwnerID != record.OwnerID {
		return goerr.Wrap(model.ErrMemoryNotFound, "no such record", goerr.V("owner_id", record.OwnerID), goerr.V("id", record.ID))
	}

	s.records[record.ID] = record.Clone()
	return nil
}

func (s *Memory) Nearest(ctx context.Context, owner model.OwnerID, vector []float32, k int, minSim float64) ([]model.Candidate, error) {
	if k < 1 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []model.Candidate
	for _, record := range s.records {
		if record.OwnerID != owner || record.Status != model.StatusActive {
			continue
		}

		sim := model.Similarity(vector, record.Embedding)
		if sim < minSim {
			continue
		}

		candidates = append(candidates, model.Candidate{
			Record:     record.Clone(),
			Similarity: sim,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func (s *Memory) ListByOwner(ctx context.Context, owner model.OwnerID, statuses ...model.Status) ([]*model.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*model.MemoryRecord
	for _, record := range s.records {
		if record.OwnerID != owner || !matchStatus(record.Status, statuses) {
			continue
		}
		records = append(records, record.Clone())
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	return records, nil
}

func (s *Memory) SweepArchivable(ctx context.Context, olderThan time.Time) ([]*model.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*model.MemoryRecord
	for _, record := range s.records {
		if record.Status != model.StatusSuperseded || !record.UpdatedAt.Before(olderThan) {
			continue
		}
		records = append(records, record.Clone())
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.Before(records[j].UpdatedAt)
	})

	return records, nil
}

func (s *Memory) Close() error {
	return nil
}
