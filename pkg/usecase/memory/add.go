package memory

import (
	"context"
	"errors"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mneme/pkg/adapter"
	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/m-mizutani/mneme/pkg/utils/backoff"
	"github.com/m-mizutani/mneme/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

// Add runs the full reconciliation pipeline for one submission: gate,
// extract, embed, then decide and apply per fact. Embeddings are computed
// concurrently, but decisions are applied strictly in extraction order
// under the owner lock so earlier facts are visible to later ones.
//
// A fact that fails is reported in its outcome and never stops the rest of
// the batch. Add returns an error only when the submission as a whole could
// not start: invalid input or a gate denial.
func (u *UseCase) Add(ctx context.Context, sub *model.Submission) (*model.Report, error) {
	if sub == nil {
		return nil, goerr.Wrap(model.ErrInvalidInput, "submission is nil")
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	if u.gate != nil {
		if err := u.gate.Allow(ctx, sub); err != nil {
			return nil, err
		}
	}

	report := &model.Report{
		OwnerID:      sub.OwnerID,
		SubmissionID: sub.ID,
	}

	facts := u.Extract(ctx, sub)
	report.FactsCount = len(facts)
	if len(facts) == 0 {
		report.Tally()
		return report, nil
	}

	embeddings, embedErrs := u.embedFacts(ctx, facts)

	lock := u.locks.get(sub.OwnerID)
	lock.Lock()
	defer lock.Unlock()

	report.Outcomes = make([]model.Outcome, 0, len(facts))
	for i, fact := range facts {
		outcome := u.reconcile(ctx, sub, fact, embeddings[i], embedErrs[i])
		report.Outcomes = append(report.Outcomes, outcome)
		u.notifier.Outcome(ctx, *sub, outcome)
	}

	report.Tally()
	logging.From(ctx).Info("submission reconciled",
		"owner_id", sub.OwnerID,
		"submission_id", sub.ID,
		"facts", report.FactsCount,
		"created", report.CreatedCount,
		"updated", report.UpdatedCount,
		"merged", report.MergedCount,
		"ignored", report.IgnoredCount,
		"failed", report.FailedCount,
	)
	return report, nil
}

// reconcile decides and applies a single fact. Cancellation surfaces as a
// failed outcome so the report still accounts for every fact.
func (u *UseCase) reconcile(ctx context.Context, sub *model.Submission, fact model.Fact, embedding []float32, embedErr error) model.Outcome {
	if embedErr != nil {
		return failedOutcome(fact, embedErr)
	}
	if err := ctx.Err(); err != nil {
		return failedOutcome(fact, err)
	}

	candidates, err := u.resolveCandidates(ctx, sub.OwnerID, embedding)
	if err != nil {
		return failedOutcome(fact, err)
	}

	decision := u.decide(ctx, fact, candidates)
	return u.execute(ctx, sub, fact, embedding, decision, candidates)
}

// embedFacts computes one vector per fact with a bounded fan-out. Results
// and errors are positional: a failed fact leaves a nil vector and an error
// at its index while the rest of the batch proceeds.
func (u *UseCase) embedFacts(ctx context.Context, facts []model.Fact) ([][]float32, []error) {
	embeddings := make([][]float32, len(facts))
	embedErrs := make([]error, len(facts))

	var eg errgroup.Group
	eg.SetLimit(u.parallel)
	for i, fact := range facts {
		eg.Go(func() error {
			embeddings[i], embedErrs[i] = u.embedText(ctx, fact.Text)
			return nil
		})
	}
	_ = eg.Wait()

	return embeddings, embedErrs
}

func (u *UseCase) embedText(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := backoff.Do(ctx, u.retry, func(ctx context.Context) error {
		if u.limiter != nil {
			if err := u.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		vectors, err := u.embedder.Embed(ctx, []string{text})
		if err != nil {
			return err
		}
		if len(vectors) != 1 {
			return goerr.Wrap(model.ErrEmbeddingUnavailable, "unexpected embedding count",
				goerr.V("count", len(vectors)))
		}
		vector = vectors[0]
		return nil
	}, func(err error) bool {
		return adapter.IsTransient(err) || errors.Is(err, model.ErrEmbeddingUnavailable)
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed fact")
	}
	return vector, nil
}
