package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// Fact is a candidate atomic statement extracted from input text. Facts exist
// only during pipeline execution and are never persisted on their own.
type Fact struct {
	Text        string
	Source      string
	OwnerID     OwnerID
	ExtractedAt time.Time
}

// Submission is one inbound text attributed to an owner. Each submission is
// processed as a single unit of work.
type Submission struct {
	ID       string
	OwnerID  OwnerID
	Text     string
	App      string
	Metadata map[string]any

	// Infer controls fact extraction. When false the trimmed text is stored
	// as a single fact without a model call.
	Infer bool
}

// NewSubmission builds a submission with a generated id and extraction
// enabled.
func NewSubmission(owner OwnerID, text string) *Submission {
	return &Submission{
		ID:      uuid.New().String(),
		OwnerID: owner,
		Text:    text,
		Infer:   true,
	}
}

// Validate checks the submission before the pipeline runs.
func (s *Submission) Validate() error {
	if s.OwnerID == "" {
		return goerr.Wrap(ErrInvalidInput, "owner id is empty")
	}
	return nil
}
