package policy_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/m-mizutani/mneme/pkg/policy"
)

const testPolicy = `package mneme.ingest

deny contains msg if {
	input.app == "blocked-app"
	msg := "app is not allowed to store memories"
}

deny contains msg if {
	input.text_length > 10000
	msg := "submission too large"
}
`

func TestGateAllowsByDefault(t *testing.T) {
	gate, err := policy.New(context.Background(), t.TempDir())
	gt.NoError(t, err)

	sub := model.NewSubmission("user-1", "some text")
	gt.NoError(t, gate.Allow(context.Background(), sub))
}

func TestGateDeniesByApp(t *testing.T) {
	ctx := context.Background()
	gate, err := policy.NewFromModule(ctx, "ingest.rego", testPolicy)
	gt.NoError(t, err)

	sub := model.NewSubmission("user-1", "some text")
	sub.App = "blocked-app"

	err = gate.Allow(ctx, sub)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrSubmissionDenied))
}

func TestGateDeniesOversizedText(t *testing.T) {
	ctx := context.Background()
	gate, err := policy.NewFromModule(ctx, "ingest.rego", testPolicy)
	gt.NoError(t, err)

	big := make([]byte, 10001)
	for i := range big {
		big[i] = 'a'
	}

	sub := model.NewSubmission("user-1", string(big))
	err = gate.Allow(ctx, sub)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrSubmissionDenied))
}

func TestGateAllowsCleanSubmission(t *testing.T) {
	ctx := context.Background()
	gate, err := policy.NewFromModule(ctx, "ingest.rego", testPolicy)
	gt.NoError(t, err)

	sub := model.NewSubmission("user-1", "likes coffee")
	sub.App = "assistant"
	gt.NoError(t, gate.Allow(ctx, sub))
}

func TestGateLoadsFromDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "ingest.rego"), []byte(testPolicy), 0600))

	gate, err := policy.New(ctx, dir)
	gt.NoError(t, err)

	sub := model.NewSubmission("user-1", "some text")
	sub.App = "blocked-app"
	gt.Error(t, gate.Allow(ctx, sub))
}
