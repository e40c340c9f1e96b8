package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/m-mizutani/mneme/pkg/repository"
)

func newRecord(owner model.OwnerID, content string, embedding []float32) *model.MemoryRecord {
	now := time.Now()
	return &model.MemoryRecord{
		ID:         model.NewMemoryID(),
		OwnerID:    owner,
		Content:    content,
		Embedding:  embedding,
		Confidence: 0.7,
		Status:     model.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestMemoryPutAndGet(t *testing.T) {
	store := repository.NewMemory()
	ctx := context.Background()

	record := newRecord("u1", "likes hiking", []float32{1, 0, 0})
	gt.NoError(t, store.Put(ctx, record))

	got, err := store.Get(ctx, "u1", record.ID)
	gt.NoError(t, err)
	gt.Equal(t, got.Content, "likes hiking")
	gt.Equal(t, got.OwnerID, model.OwnerID("u1"))
}

func TestMemoryPutDuplicateID(t *testing.T) {
	store := repository.NewMemory()
	ctx := context.Background()

	record := newRecord("u1", "likes hiking", []float32{1, 0, 0})
	gt.NoError(t, store.Put(ctx, record))

	err := store.Put(ctx, record)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrDuplicateID))
}

func TestMemoryGetWrongOwner(t *testing.T) {
	store := repository.NewMemory()
	ctx := context.Background()

	record := newRecord("u1", "likes hiking", []float32{1, 0, 0})
	gt.NoError(t, store.Put(ctx, record))

	_, err := store.Get(ctx, "u2", record.ID)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrMemoryNotFound))
}

func TestMemoryNearestOwnerIsolation(t *testing.T) {
	store := repository.NewMemory()
	ctx := context.Background()

	gt.NoError(t, store.Put(ctx, newRecord("owner_a", "lives in Paris", []float32{1, 0, 0})))
	gt.NoError(t, store.Put(ctx, newRecord("owner_b", "lives in Paris", []float32{1, 0, 0})))

	candidates, err := store.Nearest(ctx, "owner_a", []float32{1, 0, 0}, 10, 0)
	gt.NoError(t, err)
	gt.A(t, candidates).Length(1)
	gt.Equal(t, candidates[0].Record.OwnerID, model.OwnerID("owner_a"))
}

func TestMemoryNearestExcludesInactive(t *testing.T) {
	store := repository.NewMemory()
	ctx := context.Background()

	active := newRecord("u1", "works as a teacher", []float32{1, 0, 0})
	gt.NoError(t, store.Put(ctx, active))

	superseded := newRecord("u1", "works as a teacher", []float32{1, 0, 0})
	superseded.Status = model.StatusSuperseded
	gt.NoError(t, store.Put(ctx, superseded))

	candidates, err := store.Nearest(ctx, "u1", []float32{1, 0, 0}, 10, 0)
	gt.NoError(t, err)
	gt.A(t, candidates).Length(1)
	gt.Equal(t, candidates[0].Record.ID, active.ID)
}

func TestMemoryNearestThresholdAndOrder(t *testing.T) {
	store := repository.NewMemory()
	ctx := context.Background()

	near := newRecord("u1", "likes hiking", []float32{1, 0.1, 0})
	far := newRecord("u1", "owns a cat", []float32{0, 1, 0})
	gt.NoError(t, store.Put(ctx, near))
	gt.NoError(t, store.Put(ctx, far))

	candidates, err := store.Nearest(ctx, "u1", []float32{1, 0, 0}, 10, 0.9)
	gt.NoError(t, err)
	gt.A(t, candidates).Length(1)
	gt.Equal(t, candidates[0].Record.ID, near.ID)
	gt.True(t, candidates[0].Similarity >= 0.9)
}

func TestMemoryUpdateReplaces(t *testing.T) {
	store := repository.NewMemory()
	ctx := context.Background()

	record := newRecord("u1", "works as a teacher", []float32{1, 0, 0})
	gt.NoError(t, store.Put(ctx, record))

	record.Content = "works as a professor"
	record.Embedding = []float32{0.9, 0.1, 0}
	record.PushHistory("works as a teacher", time.Now(), model.ReasonUpdated)
	gt.NoError(t, store.Update(ctx, record))

	got, err := store.Get(ctx, "u1", record.ID)
	gt.NoError(t, err)
	gt.Equal(t, got.Content, "works as a professor")
	gt.A(t, got.History).Length(1)
	gt.Equal(t, got.History[0].Content, "works as a teacher")
}

func TestMemoryListByOwnerStatusFilter(t *testing.T) {
	store := repository.NewMemory()
	ctx := context.Background()

	active := newRecord("u1", "likes hiking", []float32{1, 0, 0})
	gt.NoError(t, store.Put(ctx, active))

	superseded := newRecord("u1", "old fact", []float32{0, 1, 0})
	superseded.Status = model.StatusSuperseded
	gt.NoError(t, store.Put(ctx, superseded))

	all, err := store.ListByOwner(ctx, "u1")
	gt.NoError(t, err)
	gt.A(t, all).Length(2)

	activeOnly, err := store.ListByOwner(ctx, "u1", model.StatusActive)
	gt.NoError(t, err)
	gt.A(t, activeOnly).Length(1)
	gt.Equal(t, activeOnly[0].ID, active.ID)
}

func TestMemorySweepArchivable(t *testing.T) {
	store := repository.NewMemory()
	ctx := context.Background()

	old := newRecord("u1", "stale fact", []float32{1, 0, 0})
	old.Status = model.StatusSuperseded
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	gt.NoError(t, store.Put(ctx, old))

	fresh := newRecord("u1", "recent fact", []float32{0, 1, 0})
	fresh.Status = model.StatusSuperseded
	gt.NoError(t, store.Put(ctx, fresh))

	activeOld := newRecord("u1", "active fact", []float32{0, 0, 1})
	activeOld.UpdatedAt = time.Now().Add(-48 * time.Hour)
	gt.NoError(t, store.Put(ctx, activeOld))

	swept, err := store.SweepArchivable(ctx, time.Now().Add(-24*time.Hour))
	gt.NoError(t, err)
	gt.A(t, swept).Length(1)
	gt.Equal(t, swept[0].ID, old.ID)
}

func TestMemoryCloneIsolation(t *testing.T) {
	store := repository.NewMemory()
	ctx := context.Background()

	record := newRecord("u1", "likes hiking", []float32{1, 0, 0})
	gt.NoError(t, store.Put(ctx, record))

	// Mutating the caller's copy must not leak into the store.
	record.Content = "mutated"
	record.Embedding[0] = 0

	got, err := store.Get(ctx, "u1", record.ID)
	gt.NoError(t, err)
	gt.Equal(t, got.Content, "likes hiking")
	gt.Equal(t, got.Embedding[0], float32(1))
}
