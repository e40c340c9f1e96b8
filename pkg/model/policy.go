package model

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// ReconcilePolicy holds the tunable knobs of the reconciliation engine. All
// thresholds are normalized cosine similarity in [0,1]. The defaults are
// starting points, not contracts: deployments tune them per embedding model.
type ReconcilePolicy struct {
	// MatchThreshold gates whether an existing record counts as related to a
	// new fact at all.
	MatchThreshold float64 `yaml:"match_threshold"`

	// DuplicateThreshold is the stricter bound for treating a fact as an
	// exact duplicate of its best candidate.
	DuplicateThreshold float64 `yaml:"duplicate_threshold"`

	// TopK caps how many candidates the resolver retrieves per fact.
	TopK int `yaml:"top_k"`

	// InitialConfidence is assigned to newly created records and stands in
	// for the new fact's confidence during conflict resolution.
	InitialConfidence float64 `yaml:"initial_confidence"`

	// ConfidenceMargin is the minimum confidence gap that lets the
	// higher-confidence side win a conflict; smaller gaps fall back to
	// recency.
	ConfidenceMargin float64 `yaml:"confidence_margin"`

	// MaxInputTokens truncates oversized submissions before extraction.
	// Zero disables the guard.
	MaxInputTokens int `yaml:"max_input_tokens"`
}

// DefaultReconcilePolicy returns the shipped defaults.
func DefaultReconcilePolicy() ReconcilePolicy {
	return ReconcilePolicy{
		MatchThreshold:     0.88,
		DuplicateThreshold: 0.97,
		TopK:               5,
		InitialConfidence:  0.7,
		ConfidenceMargin:   0.15,
	}
}

// LoadReconcilePolicy reads a YAML policy file over the defaults. Missing
// keys keep their default values.
func LoadReconcilePolicy(path string) (ReconcilePolicy, error) {
	p := DefaultReconcilePolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		return p, goerr.Wrap(err, "failed to read policy file", goerr.V("path", path))
	}

	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, goerr.Wrap(err, "failed to parse policy file", goerr.V("path", path))
	}

	if err := p.Validate(); err != nil {
		return p, err
	}

	return p, nil
}

// Validate checks threshold ordering and ranges.
func (p ReconcilePolicy) Validate() error {
	if p.MatchThreshold <= 0 || p.MatchThreshold >= 1 {
		return goerr.Wrap(ErrInvalidInput, "match_threshold must be in (0,1)", goerr.V("value", p.MatchThreshold))
	}
	if p.DuplicateThreshold <= p.MatchThreshold || p.DuplicateThreshold > 1 {
		return goerr.Wrap(ErrInvalidInput, "duplicate_threshold must be in (match_threshold,1]", goerr.V("value", p.DuplicateThreshold))
	}
	if p.TopK < 1 {
		return goerr.Wrap(ErrInvalidInput, "top_k must be at least 1", goerr.V("value", p.TopK))
	}
	if p.InitialConfidence <= 0 || p.InitialConfidence > 1 {
		return goerr.Wrap(ErrInvalidInput, "initial_confidence must be in (0,1]", goerr.V("value", p.InitialConfidence))
	}
	if p.ConfidenceMargin < 0 || p.ConfidenceMargin >= 1 {
		return goerr.Wrap(ErrInvalidInput, "confidence_margin must be in [0,1)", goerr.V("value", p.ConfidenceMargin))
	}
	if p.MaxInputTokens < 0 {
		return goerr.Wrap(ErrInvalidInput, "max_input_tokens must not be negative", goerr.V("value", p.MaxInputTokens))
	}
	return nil
}
