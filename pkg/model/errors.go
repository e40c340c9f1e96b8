package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrInvalidInput marks structurally invalid requests or records. Never
	// retried.
	ErrInvalidInput = goerr.New("invalid input")

	// ErrMemoryNotFound is returned by stores when no record matches the
	// owner and id.
	ErrMemoryNotFound = goerr.New("memory not found")

	// ErrDuplicateID signals an insert with an id that already exists. Ids
	// are generated, so this is an invariant violation: fatal, never retried.
	ErrDuplicateID = goerr.New("duplicate memory id")

	// ErrEmbeddingUnavailable marks a transient embedding provider failure.
	// Callers retry with backoff; exhausted retries turn into a failed
	// outcome for the affected fact only.
	ErrEmbeddingUnavailable = goerr.New("embedding provider unavailable")

	// ErrStoreUnavailable marks a transient store failure. Reads are retried;
	// writes only when idempotent-safe.
	ErrStoreUnavailable = goerr.New("memory store unavailable")

	// ErrSubmissionDenied is returned when the ingest policy rejects a
	// submission before any model call.
	ErrSubmissionDenied = goerr.New("submission denied by policy")
)
