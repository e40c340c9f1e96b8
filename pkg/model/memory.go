package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type MemoryID string

// NewMemoryID generates a new unique MemoryID
func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

// OwnerID partitions all memory visibility and search. Records of one owner
// are never observable through another owner's queries.
type OwnerID string

type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusSuperseded Status = "SUPERSEDED"
	StatusArchived   Status = "ARCHIVED"
)

// Validate checks if the status is valid
func (s Status) Validate() error {
	switch s {
	case StatusActive, StatusSuperseded, StatusArchived:
		return nil
	default:
		return goerr.New("invalid status", goerr.V("status", s))
	}
}

// History reasons recorded by the reconciliation engine.
const (
	ReasonExactDuplicate     = "exact duplicate"
	ReasonUpdated            = "updated"
	ReasonMerged             = "merged"
	ReasonConflictConfidence = "conflict:lower-confidence"
	ReasonConflictRecency    = "conflict:recency"
)

// HistoryEntry is one prior version of a record's content. Entries are
// append-only and never truncated by reconciliation.
type HistoryEntry struct {
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
	Reason    string    `json:"reason"`
}

// MemoryRecord is the persisted unit of long-term memory. Content and
// Embedding change together: an ACTIVE record never carries a vector that was
// generated from an older content.
type MemoryRecord struct {
	ID         MemoryID       `json:"id"`
	OwnerID    OwnerID        `json:"owner_id"`
	Content    string         `json:"content"`
	Embedding  []float32      `json:"embedding,omitempty"`
	Confidence float64        `json:"confidence"`
	Status     Status         `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	History    []HistoryEntry `json:"history,omitempty"`
	SourceRefs []string       `json:"source_refs,omitempty"`
}

// Validate checks the structural invariants of a record before it is written.
func (m *MemoryRecord) Validate() error {
	if m.ID == "" {
		return goerr.Wrap(ErrInvalidInput, "memory id is empty")
	}
	if m.OwnerID == "" {
		return goerr.Wrap(ErrInvalidInput, "owner id is empty")
	}
	if m.Content == "" {
		return goerr.Wrap(ErrInvalidInput, "content is empty", goerr.V("id", m.ID))
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return goerr.Wrap(ErrInvalidInput, "confidence out of range", goerr.V("confidence", m.Confidence))
	}
	if err := m.Status.Validate(); err != nil {
		return err
	}
	if m.Status == StatusActive && len(m.Embedding) == 0 {
		return goerr.Wrap(ErrInvalidInput, "active record has no embedding", goerr.V("id", m.ID))
	}
	return nil
}

// Clone returns a deep copy so callers can mutate records without sharing
// slices with the store.
func (m *MemoryRecord) Clone() *MemoryRecord {
	c := *m
	if m.Embedding != nil {
		c.Embedding = make([]float32, len(m.Embedding))
		copy(c.Embedding, m.Embedding)
	}
	if m.History != nil {
		c.History = make([]HistoryEntry, len(m.History))
		copy(c.History, m.History)
	}
	if m.SourceRefs != nil {
		c.SourceRefs = make([]string, len(m.SourceRefs))
		copy(c.SourceRefs, m.SourceRefs)
	}
	return &c
}

// PushHistory appends a prior content version. The tail of History always
// reflects the content as of the previous version of the record.
func (m *MemoryRecord) PushHistory(content string, at time.Time, reason string) {
	m.History = append(m.History, HistoryEntry{
		Content:   content,
		UpdatedAt: at,
		Reason:    reason,
	})
}

// AddSourceRef records an originating message identifier. Refs behave as a
// set: duplicates are dropped.
func (m *MemoryRecord) AddSourceRef(ref string) {
	if ref == "" {
		return
	}
	for _, r := range m.SourceRefs {
		if r == ref {
			return
		}
	}
	m.SourceRefs = append(m.SourceRefs, ref)
}

// NormalizeText lowercases and collapses whitespace. Exact-duplicate checks,
// batch deduplication and the merge tie-break all compare normalized text.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
