package repository_test

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/m-mizutani/mneme/pkg/repository"
	"github.com/pashagolub/pgxmock/v3"
)

func TestPGVectorPut(t *testing.T) {
	mock, err := pgxmock.NewPool()
	gt.NoError(t, err)
	defer mock.Close()

	store := repository.NewPGVectorWithPool(mock, 3)

	record := newRecord("u1", "likes hiking", []float32{1, 0, 0})
	history, _ := json.Marshal(record.History)
	refs, _ := json.Marshal(record.SourceRefs)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO memories")).
		WithArgs(
			string(record.ID), "u1", "likes hiking", "[1,0,0]",
			record.Confidence, "ACTIVE", record.CreatedAt, record.UpdatedAt,
			history, refs,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	gt.NoError(t, store.Put(context.Background(), record))
	gt.NoError(t, mock.ExpectationsWereMet())
}

func TestPGVectorPutDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	gt.NoError(t, err)
	defer mock.Close()

	store := repository.NewPGVectorWithPool(mock, 3)

	record := newRecord("u1", "likes hiking", []float32{1, 0, 0})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO memories")).
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err = store.Put(context.Background(), record)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrDuplicateID))
}

func TestPGVectorGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	gt.NoError(t, err)
	defer mock.Close()

	store := repository.NewPGVectorWithPool(mock, 3)

	now := time.Now()
	rows := pgxmock.NewRows([]string{
		"id", "owner_id", "content", "embedding", "confidence", "status",
		"created_at", "updated_at", "history", "source_refs",
	}).AddRow(
		"mem-1", "u1", "likes hiking", "[1,0,0]", 0.7, "ACTIVE",
		now, now, []byte(`[]`), []byte(`["msg-1"]`),
	)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("mem-1", "u1").
		WillReturnRows(rows)

	record, err := store.Get(context.Background(), "u1", "mem-1")
	gt.NoError(t, err)
	gt.Equal(t, record.Content, "likes hiking")
	gt.Equal(t, record.Embedding, []float32{1, 0, 0})
	gt.A(t, record.SourceRefs).Length(1)
}

func TestPGVectorGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	gt.NoError(t, err)
	defer mock.Close()

	store := repository.NewPGVectorWithPool(mock, 3)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).
		WithArgs("missing", "u1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "owner_id", "content", "embedding", "confidence", "status",
			"created_at", "updated_at", "history", "source_refs",
		}))

	_, err = store.Get(context.Background(), "u1", "missing")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrMemoryNotFound))
}

func TestPGVectorUpdateMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	gt.NoError(t, err)
	defer mock.Close()

	store := repository.NewPGVectorWithPool(mock, 3)

	record := newRecord("u1", "likes hiking", []float32{1, 0, 0})

	mock.ExpectExec(regexp.QuoteMeta("UPDATE memories")).
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.Update(context.Background(), record)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrMemoryNotFound))
}

func TestPGVectorNearest(t *testing.T) {
	mock, err := pgxmock.NewPool()
	gt.NoError(t, err)
	defer mock.Close()

	store := repository.NewPGVectorWithPool(mock, 3)

	now := time.Now()
	rows := pgxmock.NewRows([]string{
		"id", "owner_id", "content", "embedding", "confidence", "status",
		"created_at", "updated_at", "history", "source_refs", "similarity",
	}).AddRow(
		"mem-1", "u1", "likes hiking", "[1,0,0]", 0.7, "ACTIVE",
		now, now, []byte(`[]`), []byte(`[]`), 0.95,
	)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY embedding <=> $2")).
		WithArgs("u1", "[1,0,0]", "ACTIVE", 0.88, 5).
		WillReturnRows(rows)

	candidates, err := store.Nearest(context.Background(), "u1", []float32{1, 0, 0}, 5, 0.88)
	gt.NoError(t, err)
	gt.A(t, candidates).Length(1)
	gt.Equal(t, candidates[0].Record.ID, model.MemoryID("mem-1"))
	gt.Equal(t, candidates[0].Similarity, 0.95)
}

func TestPGVectorTransientError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	gt.NoError(t, err)
	defer mock.Close()

	store := repository.NewPGVectorWithPool(mock, 3)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY embedding <=> $2")).
		WithArgs("u1", "[1,0,0]", "ACTIVE", 0.88, 5).
		WillReturnError(&pgconn.PgError{Code: "08006"})

	_, err = store.Nearest(context.Background(), "u1", []float32{1, 0, 0}, 5, 0.88)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrStoreUnavailable))
}
