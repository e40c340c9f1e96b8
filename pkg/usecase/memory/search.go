package memory

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mneme/pkg/model"
)

const maxSearchLimit = 100

// Search embeds the query text and returns the owner's most similar ACTIVE
// memories with their similarity scores. No similarity floor is applied:
// semantic search should return its best matches even when they are weak,
// and the caller sees the scores.
func (u *UseCase) Search(ctx context.Context, owner model.OwnerID, query string, limit int) ([]model.Candidate, error) {
	if owner == "" {
		return nil, goerr.Wrap(model.ErrInvalidInput, "owner id is empty")
	}
	if query == "" {
		return nil, goerr.Wrap(model.ErrInvalidInput, "query is empty")
	}
	if limit <= 0 {
		limit = u.policy.TopK
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	vector, err := u.embedText(ctx, query)
	if err != nil {
		return nil, err
	}

	return u.store.Nearest(ctx, owner, vector, limit, 0)
}

// Get retrieves a single record of the owner, any status.
func (u *UseCase) Get(ctx context.Context, owner model.OwnerID, id model.MemoryID) (*model.MemoryRecord, error) {
	if owner == "" {
		return nil, goerr.Wrap(model.ErrInvalidInput, "owner id is empty")
	}
	if id == "" {
		return nil, goerr.Wrap(model.ErrInvalidInput, "memory id is empty")
	}
	return u.store.Get(ctx, owner, id)
}

// List returns the owner's records, newest first. Without statuses only
// ACTIVE records are returned; pass explicit statuses to see retired ones.
func (u *UseCase) List(ctx context.Context, owner model.OwnerID, statuses ...model.Status) ([]*model.MemoryRecord, error) {
	if owner == "" {
		return nil, goerr.Wrap(model.ErrInvalidInput, "owner id is empty")
	}
	if len(statuses) == 0 {
		statuses = []model.Status{model.StatusActive}
	}
	return u.store.ListByOwner(ctx, owner, statuses...)
}
