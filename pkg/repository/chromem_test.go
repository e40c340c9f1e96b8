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

func setupChromem(t *testing.T) *repository.Chromem {
	store, err := repository.NewChromem("")
	gt.NoError(t, err)
	return store
}

func TestChromemPutGetUpdate(t *testing.T) {
	store := setupChromem(t)
	ctx := context.Background()

	record := newRecord("u1", "works as a teacher", []float32{1, 0, 0})
	gt.NoError(t, store.Put(ctx, record))

	gt.True(t, errors.Is(store.Put(ctx, record), model.ErrDuplicateID))

	record.Content = "works as a professor"
	record.Embedding = []float32{0.9, 0.1, 0}
	record.PushHistory("works as a teacher", time.Now(), model.ReasonUpdated)
	gt.NoError(t, store.Update(ctx, record))

	got, err := store.Get(ctx, "u1", record.ID)
	gt.NoError(t, err)
	gt.Equal(t, got.Content, "works as a professor")
	gt.A(t, got.History).Length(1)
}

func TestChromemNearestOwnerIsolation(t *testing.T) {
	store := setupChromem(t)
	ctx := context.Background()

	gt.NoError(t, store.Put(ctx, newRecord("owner_a", "lives in Paris", []float32{1, 0, 0})))
	gt.NoError(t, store.Put(ctx, newRecord("owner_b", "lives in Paris", []float32{1, 0, 0})))

	candidates, err := store.Nearest(ctx, "owner_a", []float32{1, 0, 0}, 10, 0)
	gt.NoError(t, err)
	gt.A(t, candidates).Length(1)
	gt.Equal(t, candidates[0].Record.OwnerID, model.OwnerID("owner_a"))
}

func TestChromemNearestStatusFilter(t *testing.T) {
	store := setupChromem(t)
	ctx := context.Background()

	active := newRecord("u1", "likes hiking", []float32{1, 0, 0})
	gt.NoError(t, store.Put(ctx, active))

	superseded := newRecord("u1", "old fact", []float32{1, 0, 0})
	superseded.Status = model.StatusSuperseded
	gt.NoError(t, store.Put(ctx, superseded))

	candidates, err := store.Nearest(ctx, "u1", []float32{1, 0, 0}, 10, 0)
	gt.NoError(t, err)
	gt.A(t, candidates).Length(1)
	gt.Equal(t, candidates[0].Record.ID, active.ID)
}

func TestChromemNearestEmptyCollection(t *testing.T) {
	store := setupChromem(t)

	candidates, err := store.Nearest(context.Background(), "nobody", []float32{1, 0, 0}, 5, 0.5)
	gt.NoError(t, err)
	gt.A(t, candidates).Length(0)
}

func TestChromemListAndSweep(t *testing.T) {
	store := setupChromem(t)
	ctx := context.Background()

	active := newRecord("u1", "likes hiking", []float32{1, 0, 0})
	gt.NoError(t, store.Put(ctx, active))

	old := newRecord("u1", "stale fact", []float32{0, 1, 0})
	old.Status = model.StatusSuperseded
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	gt.NoError(t, store.Put(ctx, old))

	records, err := store.ListByOwner(ctx, "u1", model.StatusActive)
	gt.NoError(t, err)
	gt.A(t, records).Length(1)
	gt.Equal(t, records[0].ID, active.ID)

	swept, err := store.SweepArchivable(ctx, time.Now().Add(-24*time.Hour))
	gt.NoError(t, err)
	gt.A(t, swept).Length(1)
	gt.Equal(t, swept[0].ID, old.ID)
}

func TestChromemPersistentReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := repository.NewChromem(dir)
	gt.NoError(t, err)

	record := newRecord("u1", "likes hiking", []float32{1, 0, 0})
	gt.NoError(t, store.Put(ctx, record))
	gt.NoError(t, store.Close())

	reopened, err := repository.NewChromem(dir)
	gt.NoError(t, err)

	got, err := reopened.Get(ctx, "u1", record.ID)
	gt.NoError(t, err)
	gt.Equal(t, got.Content, "likes hiking")

	records, err := reopened.ListByOwner(ctx, "u1")
	gt.NoError(t, err)
	gt.A(t, records).Length(1)
}
