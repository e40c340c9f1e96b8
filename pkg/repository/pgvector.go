package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mneme/pkg/model"
)

// DBPool is the subset of pgxpool.Pool used by the pgvector store. Tests
// substitute a pgxmock pool.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PGVector implements Store on PostgreSQL with the pgvector extension.
// Nearest uses the `<=>` cosine distance operator; history and source refs
// are stored as JSONB.
type PGVector struct {
	pool      DBPool
	dimension int
}

var _ Store = (*PGVector)(nil)

// NewPGVector connects to PostgreSQL and bootstraps the schema. The vector
// column dimensionality is fixed at creation and must match the embedder.
func NewPGVector(ctx context.Context, connString string, dimension int) (*PGVector, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create connection pool")
	}

	s := NewPGVectorWithPool(pool, dimension)
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// NewPGVectorWithPool wraps an existing pool without touching the schema.
func NewPGVectorWithPool(pool DBPool, dimension int) *PGVector {
	return &PGVector{
		pool:      pool,
		dimension: dimension,
	}
}

func (s *PGVector) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			history JSONB NOT NULL DEFAULT '[]',
			source_refs JSONB NOT NULL DEFAULT '[]'
		);
		CREATE INDEX IF NOT EXISTS idx_memories_owner_status ON memories (owner_id, status);
	`, s.dimension)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return goerr.Wrap(err, "failed to create schema")
	}
	return nil
}

// vectorLiteral renders a vector in pgvector's text input format.
func vectorLiteral(vector []float32) string {
	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func wrapPgErr(err error, msg string, values ...goerr.Option) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return goerr.Wrap(model.ErrDuplicateID, msg, values...)
		case strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "57P03":
			return goerr.Wrap(model.ErrStoreUnavailable, msg, append(values, goerr.V("cause", err))...)
		}
	}
	return goerr.Wrap(err, msg, values...)
}

func (s *PGVector) Put(ctx context.Context, record *model.MemoryRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	history, err := json.Marshal(record.History)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal history")
	}
	refs, err := json.Marshal(record.SourceRefs)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal source refs")
	}

	query := `
		INSERT INTO memories (id, owner_id, content, embedding, confidence, status, created_at, updated_at, history, source_refs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.pool.Exec(ctx, query,
		string(record.ID), string(record.OwnerID), record.Content,
		vectorLiteral(record.Embedding), record.Confidence, string(record.Status),
		record.CreatedAt, record.UpdatedAt, history, refs,
	)
	if err != nil {
		return wrapPgErr(err, "failed to insert record", goerr.V("id", record.ID))
	}

	return nil
}

const selectColumns = "id, owner_id, content, embedding::text, confidence, status, created_at, updated_at, history, source_refs"

// parseVector reads pgvector's text output format back into a slice.
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, goerr.New("malformed vector literal", goerr.V("value", s))
	}

	body := s[1 : len(s)-1]
	if body == "" {
		return nil, nil
	}

	parts := strings.Split(body, ",")
	vector := make([]float32, len(parts))
	for i, part := range parts {
		var v float64
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%g", &v); err != nil {
			return nil, goerr.Wrap(err, "malformed vector element", goerr.V("element", part))
		}
		vector[i] = float32(v)
	}

	return vector, nil
}

func scanRecord(row pgx.Row) (*model.MemoryRecord, error) {
	var (
		record    model.MemoryRecord
		id        string
		owner     string
		embedding string
		status    string
		history   []byte
		refs      []byte
	)

	err := row.Scan(&id, &owner, &record.Content, &embedding, &record.Confidence, &status,
		&record.CreatedAt, &record.UpdatedAt, &history, &refs)
	if err != nil {
		return nil, err
	}

	record.ID = model.MemoryID(id)
	record.OwnerID = model.OwnerID(owner)
	record.Status = model.Status(status)

	vector, err := parseVector(embedding)
	if err != nil {
		return nil, err
	}
	record.Embedding = vector

	if err := json.Unmarshal(history, &record.History); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal history", goerr.V("id", id))
	}
	if err := json.Unmarshal(refs, &record.SourceRefs); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal source refs", goerr.V("id", id))
	}

	return &record, nil
}

func (s *PGVector) Get(ctx context.Context, owner model.OwnerID, id model.MemoryID) (*model.MemoryRecord, error) {
	query := "SELECT " + selectColumns + " FROM memories WHERE id = $1 AND owner_id = $2"

	record, err := scanRecord(s.pool.QueryRow(ctx, query, string(id), string(owner)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, goerr.Wrap(model.ErrMemoryNotFound, "no such record", goerr.V("owner_id", owner), goerr.V("id", id))
		}
		return nil, wrapPgErr(err, "failed to get record", goerr.V("id", id))
	}

	return record, nil
}

func (s *PGVector) Update(ctx context.Context, record *model.MemoryRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	history, err := json.Marshal(record.History)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal history")
	}
	refs, err := json.Marshal(record.SourceRefs)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal source refs")
	}

	// Single-statement update: readers never see content and embedding from
	// different versions.
	query := `
		UPDATE memories
		SET content = $3, embedding = $4, confidence = $5, status = $6, updated_at = $7, history = $8, source_refs = $9
		WHERE id = $1 AND owner_id = $2
	`
	tag, err := s.pool.Exec(ctx, query,
		string(record.ID), string(record.OwnerID), record.Content,
		vectorLiteral(record.Embedding), record.Confidence, string(record.Status),
		record.UpdatedAt, history, refs,
	)
	if err != nil {
		return wrapPgErr(err, "failed to update record", goerr.V("id", record.ID))
	}
	if tag.RowsAffected() == 0 {
		return goerr.Wrap(model.ErrMemoryNotFound, "no such record", goerr.V("id", record.ID))
	}

	return nil
}

func (s *PGVector) Nearest(ctx context.Context, owner model.OwnerID, vector []float32, k int, minSim float64) ([]model.Candidate, error) {
	if k < 1 {
		return nil, nil
	}

	// `<=>` is cosine distance in [0,2]; 1-d/2 converts to normalized
	// similarity, so the threshold is applied on the converted value.
	query := `
		SELECT ` + selectColumns + `, 1 - (embedding <=> $2) / 2 AS similarity
		FROM memories
		WHERE owner_id = $1 AND status = $3 AND 1 - (embedding <=> $2) / 2 >= $4
		ORDER BY embedding <=> $2
		LIMIT $5
	`
	rows, err := s.pool.Query(ctx, query,
		string(owner), vectorLiteral(vector), string(model.StatusActive), minSim, k)
	if err != nil {
		return nil, wrapPgErr(err, "failed to run vector search", goerr.V("owner_id", owner))
	}
	defer rows.Close()

	var candidates []model.Candidate
	for rows.Next() {
		var (
			record    model.MemoryRecord
			id        string
			ownerID   string
			embedding string
			status    string
			history   []byte
			refs      []byte
			sim       float64
		)

		err := rows.Scan(&id, &ownerID, &record.Content, &embedding, &record.Confidence, &status,
			&record.CreatedAt, &record.UpdatedAt, &history, &refs, &sim)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan candidate row")
		}

		record.ID = model.MemoryID(id)
		record.OwnerID = model.OwnerID(ownerID)
		record.Status = model.Status(status)

		vector, err := parseVector(embedding)
		if err != nil {
			return nil, err
		}
		record.Embedding = vector

		if err := json.Unmarshal(history, &record.History); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal history", goerr.V("id", id))
		}
		if err := json.Unmarshal(refs, &record.SourceRefs); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal source refs", goerr.V("id", id))
		}

		candidates = append(candidates, model.Candidate{
			Record:     &record,
			Similarity: sim,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPgErr(err, "failed to iterate candidates")
	}

	return candidates, nil
}

func (s *PGVector) ListByOwner(ctx context.Context, owner model.OwnerID, statuses ...model.Status) ([]*model.MemoryRecord, error) {
	query := "SELECT " + selectColumns + " FROM memories WHERE owner_id = $1"
	args := []any{string(owner)}

	if len(statuses) > 0 {
		values := make([]string, 0, len(statuses))
		for _, st := range statuses {
			values = append(values, string(st))
		}
		query += " AND status = ANY($2)"
		args = append(args, values)
	}
	query += " ORDER BY created_at DESC"

	return s.collectRows(ctx, query, args...)
}

func (s *PGVector) SweepArchivable(ctx context.Context, olderThan time.Time) ([]*model.MemoryRecord, error) {
	query := "SELECT " + selectColumns + " FROM memories WHERE status = $1 AND updated_at < $2 ORDER BY updated_at"
	return s.collectRows(ctx, query, string(model.StatusSuperseded), olderThan)
}

func (s *PGVector) collectRows(ctx context.Context, query string, args ...any) ([]*model.MemoryRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapPgErr(err, "failed to query records")
	}
	defer rows.Close()

	var records []*model.MemoryRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan record row")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPgErr(err, "failed to iterate records")
	}

	return records, nil
}

func (s *PGVector) Close() error {
	s.pool.Close()
	return nil
}
