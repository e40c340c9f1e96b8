package model

type DecisionKind string

const (
	DecisionCreate DecisionKind = "CREATE"
	DecisionUpdate DecisionKind = "UPDATE"
	DecisionMerge  DecisionKind = "MERGE"
	DecisionIgnore DecisionKind = "IGNORE"
)

// Decision is the reconciliation engine's verdict for one fact.
type Decision struct {
	Kind DecisionKind

	// Target is the record to update (UPDATE), or the record that won a
	// conflict against the fact (IGNORE with a conflict reason).
	Target MemoryID

	// Targets is the merge cluster for MERGE, survivor first.
	Targets []MemoryID

	// Supersedes names the record a conflict-winning fact replaces (CREATE
	// after conflict resolution).
	Supersedes MemoryID

	// Reason qualifies IGNORE decisions and conflict resolutions.
	Reason string
}

// Candidate pairs an existing record with its similarity to a query vector.
// Similarity is normalized cosine in [0,1].
type Candidate struct {
	Record     *MemoryRecord `json:"record"`
	Similarity float64       `json:"similarity"`
}

type OutcomeKind string

const (
	OutcomeCreated OutcomeKind = "created"
	OutcomeUpdated OutcomeKind = "updated"
	OutcomeMerged  OutcomeKind = "merged"
	OutcomeIgnored OutcomeKind = "ignored"
	OutcomeFailed  OutcomeKind = "failed"
)

// Outcome reports how one extracted fact was reconciled. Outcomes keep the
// extraction order of their facts.
type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	Fact       string      `json:"fact"`
	MemoryID   MemoryID    `json:"memory_id,omitempty"`
	Absorbed   []MemoryID  `json:"absorbed,omitempty"`
	Superseded MemoryID    `json:"superseded,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Report is the submission-level outcome summary returned to the caller. A
// report with zero stored facts is a valid result, not an error: "nothing
// extracted" and "everything failed" are distinguished by the outcomes.
type Report struct {
	Success      bool      `json:"success"`
	OwnerID      OwnerID   `json:"owner_id"`
	SubmissionID string    `json:"submission_id"`
	FactsCount   int       `json:"facts_count"`
	CreatedCount int       `json:"created_count"`
	UpdatedCount int       `json:"updated_count"`
	MergedCount  int       `json:"merged_count"`
	IgnoredCount int       `json:"ignored_count"`
	FailedCount  int       `json:"failed_count"`
	Outcomes     []Outcome `json:"outcomes"`
	Failures     []string  `json:"failures,omitempty"`
}

// Tally recomputes the per-kind counters, the failures list and the success
// flag from the outcomes.
func (r *Report) Tally() {
	r.CreatedCount = 0
	r.UpdatedCount = 0
	r.MergedCount = 0
	r.IgnoredCount = 0
	r.FailedCount = 0
	r.Failures = nil

	for _, o := range r.Outcomes {
		switch o.Kind {
		case OutcomeCreated:
			r.CreatedCount++
		case OutcomeUpdated:
			r.UpdatedCount++
		case OutcomeMerged:
			r.MergedCount++
		case OutcomeIgnored:
			r.IgnoredCount++
		case OutcomeFailed:
			r.FailedCount++
			r.Failures = append(r.Failures, o.Error)
		}
	}
	r.Success = r.FailedCount == 0
}
