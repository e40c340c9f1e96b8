package memory

import (
	"context"
	"errors"
	"math"

	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/m-mizutani/mneme/pkg/utils/backoff"
)

// resolveCandidates finds existing memories related to a new fact: the top-K
// ACTIVE neighbors at or above the match threshold, ordered by descending
// similarity. Ties within the floating-point tolerance are broken by the
// more recently updated record. An empty result means "no related memory".
//
// Nearest is a read, so transient store failures are retried here.
func (u *UseCase) resolveCandidates(ctx context.Context, owner model.OwnerID, embedding []float32) ([]model.Candidate, error) {
	var candidates []model.Candidate
	err := backoff.Do(ctx, u.retry, func(ctx context.Context) error {
		found, err := u.store.Nearest(ctx, owner, embedding, u.policy.TopK, u.policy.MatchThreshold)
		if err != nil {
			return err
		}
		candidates = found
		return nil
	}, func(err error) bool {
		return errors.Is(err, model.ErrStoreUnavailable)
	})
	if err != nil {
		return nil, err
	}

	// Backends return descending similarity; only tie-breaking is adjusted.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0; j-- {
			a, b := candidates[j-1], candidates[j]
			if math.Abs(a.Similarity-b.Similarity) > model.SimilarityEpsilon {
				break
			}
			if b.Record.UpdatedAt.After(a.Record.UpdatedAt) {
				candidates[j-1], candidates[j] = b, a
			}
		}
	}

	return candidates, nil
}
