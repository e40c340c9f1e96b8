package repository

import (
	"context"
	"time"

	"github.com/m-mizutani/mneme/pkg/model"
)

// Store defines the interface for memory record persistence. All operations
// are scoped by owner: no call ever exposes another owner's records.
//
// Every backend reports similarity as cosine normalized to [0,1] (1.0 means
// identical direction, 0.5 orthogonal). Backends whose engine reports a
// distance convert it before returning candidates.
//
// A Store never changes a record's status on its own; state transitions are
// decided upstream and arrive through Put and Update.
type Store interface {
	// Put inserts a new record. Returns model.ErrDuplicateID if the id
	// already exists. Safe to retry: ids are pre-generated, so a retried
	// Put either succeeds or hits the duplicate guard.
	Put(ctx context.Context, record *model.MemoryRecord) error

	// Get retrieves a record by owner and id. Returns model.ErrMemoryNotFound
	// when no record matches.
	Get(ctx context.Context, owner model.OwnerID, id model.MemoryID) (*model.MemoryRecord, error)

	// Update replaces the stored record atomically with respect to readers:
	// a concurrent Get or Nearest observes either the old or the new version,
	// never a mix of content and embedding.
	Update(ctx context.Context, record *model.MemoryRecord) error

	// Nearest returns up to k ACTIVE records of the owner whose similarity to
	// the query vector is at least minSim, ordered by descending similarity.
	Nearest(ctx context.Context, owner model.OwnerID, vector []float32, k int, minSim float64) ([]model.Candidate, error)

	// ListByOwner returns the owner's records ordered by CreatedAt descending.
	// An empty status list means all statuses.
	ListByOwner(ctx context.Context, owner model.OwnerID, statuses ...model.Status) ([]*model.MemoryRecord, error)

	// SweepArchivable returns SUPERSEDED records across all owners that have
	// not been updated since olderThan. Used by the retention sweep only.
	SweepArchivable(ctx context.Context, olderThan time.Time) ([]*model.MemoryRecord, error)

	// Close releases backend resources.
	Close() error
}

func matchStatus(s model.Status, statuses []model.Status) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}
