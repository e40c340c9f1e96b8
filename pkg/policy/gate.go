// Package policy screens inbound submissions with Rego before any model
// call is made. A gate is optional: without policy files every submission
// is allowed.
package policy

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/m-mizutani/mneme/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
)

// Gate evaluates data.mneme.ingest against each submission. The policy
// denies by returning a non-empty deny set; an absent or empty set allows.
type Gate struct {
	query *rego.PreparedEvalQuery
}

// New loads all .rego files from policyDir and prepares the ingest query.
// A missing or empty directory yields a gate that allows everything.
func New(ctx context.Context, policyDir string) (*Gate, error) {
	files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", policyDir))
	}
	if len(files) == 0 {
		return &Gate{}, nil
	}

	options := []func(*rego.Rego){rego.Query("data.mneme.ingest")}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		options = append(options, rego.Module(file, string(data)))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare ingest query")
	}

	return &Gate{query: &prepared}, nil
}

// NewFromModule prepares a gate from a single in-memory Rego module.
func NewFromModule(ctx context.Context, name, module string) (*Gate, error) {
	prepared, err := rego.New(
		rego.Query("data.mneme.ingest"),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare ingest query", goerr.V("module", name))
	}

	return &Gate{query: &prepared}, nil
}

// input is the document the policy sees. The submission text itself is not
// exposed, only its length: policies gate on provenance and size, not
// content.
type input struct {
	OwnerID    string         `json:"owner_id"`
	App        string         `json:"app"`
	TextLength int            `json:"text_length"`
	Metadata   map[string]any `json:"metadata"`
}

// Allow returns model.ErrSubmissionDenied when the policy denies the
// submission. The first deny message is attached for the caller.
func (g *Gate) Allow(ctx context.Context, sub *model.Submission) error {
	if g.query == nil {
		return nil
	}

	rs, err := g.query.Eval(ctx, rego.EvalInput(input{
		OwnerID:    string(sub.OwnerID),
		App:        sub.App,
		TextLength: len(sub.Text),
		Metadata:   sub.Metadata,
	}))
	if err != nil {
		return goerr.Wrap(err, "failed to evaluate ingest policy")
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil
	}

	deny, ok := data["deny"].([]any)
	if !ok || len(deny) == 0 {
		return nil
	}

	reason, _ := deny[0].(string)
	logging.From(ctx).Info("submission denied by policy",
		"owner_id", sub.OwnerID, "app", sub.App, "reason", reason)
	return goerr.Wrap(model.ErrSubmissionDenied, "denied by ingest policy",
		goerr.V("reason", reason), goerr.V("owner_id", sub.OwnerID))
}
