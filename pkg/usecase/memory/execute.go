package memory

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/m-mizutani/mneme/pkg/utils/backoff"
	"github.com/m-mizutani/mneme/pkg/utils/logging"
)

// execute applies a decision to the store and reports the outcome for the
// fact. Multi-record mutations are staged with pre-image compensation: if a
// later write fails, records already written are restored to their prior
// version, so a fact either takes full effect or none. The caller holds the
// owner lock, so no other submission mutates these records in between.
func (u *UseCase) execute(ctx context.Context, sub *model.Submission, fact model.Fact, embedding []float32, decision model.Decision, candidates []model.Candidate) model.Outcome {
	switch decision.Kind {
	case model.DecisionCreate:
		return u.executeCreate(ctx, sub, fact, embedding, decision, candidates)
	case model.DecisionUpdate:
		return u.executeUpdate(ctx, sub, fact, embedding, decision, candidates)
	case model.DecisionMerge:
		return u.executeMerge(ctx, sub, fact, embedding, decision, candidates)
	case model.DecisionIgnore:
		return u.executeIgnore(ctx, sub, fact, decision, candidates)
	default:
		return failedOutcome(fact, goerr.New("unknown decision kind", goerr.V("kind", decision.Kind)))
	}
}

func (u *UseCase) executeCreate(ctx context.Context, sub *model.Submission, fact model.Fact, embedding []float32, decision model.Decision, candidates []model.Candidate) model.Outcome {
	now := time.Now().UTC()
	record := &model.MemoryRecord{
		ID:         model.NewMemoryID(),
		OwnerID:    sub.OwnerID,
		Content:    fact.Text,
		Embedding:  embedding,
		Confidence: u.policy.InitialConfidence,
		Status:     model.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	record.AddSourceRef(sub.ID)

	var loserImage *model.MemoryRecord
	if decision.Supersedes != "" {
		loser := findCandidate(candidates, decision.Supersedes)
		if loser == nil {
			return failedOutcome(fact, goerr.Wrap(model.ErrMemoryNotFound, "superseded record is not among candidates",
				goerr.V("id", decision.Supersedes)))
		}

		// The loser is retired first so a failed Put leaves a restorable
		// pre-image instead of an orphaned new record.
		loserImage = loser.Clone()
		loser.PushHistory(loser.Content, loser.UpdatedAt, decision.Reason)
		loser.Status = model.StatusSuperseded
		loser.UpdatedAt = now
		if err := u.updateWithRetry(ctx, loser); err != nil {
			return failedOutcome(fact, err)
		}
	}

	if err := u.putWithRetry(ctx, record); err != nil {
		if loserImage != nil {
			u.restore(ctx, []*model.MemoryRecord{loserImage})
		}
		return failedOutcome(fact, err)
	}

	return model.Outcome{
		Kind:       model.OutcomeCreated,
		Fact:       fact.Text,
		MemoryID:   record.ID,
		Superseded: decision.Supersedes,
		Reason:     decision.Reason,
	}
}

func (u *UseCase) executeUpdate(ctx context.Context, sub *model.Submission, fact model.Fact, embedding []float32, decision model.Decision, candidates []model.Candidate) model.Outcome {
	target := findCandidate(candidates, decision.Target)
	if target == nil {
		return failedOutcome(fact, goerr.Wrap(model.ErrMemoryNotFound, "update target is not among candidates",
			goerr.V("id", decision.Target)))
	}

	target.PushHistory(target.Content, target.UpdatedAt, model.ReasonUpdated)
	target.Content = fact.Text
	target.Embedding = embedding
	target.Confidence = raiseConfidence(target.Confidence)
	target.UpdatedAt = time.Now().UTC()
	target.AddSourceRef(sub.ID)

	if err := u.updateWithRetry(ctx, target); err != nil {
		return failedOutcome(fact, err)
	}

	return model.Outcome{
		Kind:     model.OutcomeUpdated,
		Fact:     fact.Text,
		MemoryID: target.ID,
	}
}

func (u *UseCase) executeMerge(ctx context.Context, sub *model.Submission, fact model.Fact, embedding []float32, decision model.Decision, candidates []model.Candidate) model.Outcome {
	cluster := make([]*model.MemoryRecord, 0, len(decision.Targets))
	for _, id := range decision.Targets {
		member := findCandidate(candidates, id)
		if member == nil {
			return failedOutcome(fact, goerr.Wrap(model.ErrMemoryNotFound, "merge target is not among candidates",
				goerr.V("id", id)))
		}
		cluster = append(cluster, member)
	}

	survivor := pickSurvivor(cluster)
	now := time.Now().UTC()

	preImages := make([]*model.MemoryRecord, 0, len(cluster))
	for _, member := range cluster {
		preImages = append(preImages, member.Clone())
	}

	// The survivor keeps whichever content carries more information: the new
	// fact or its own. Content and embedding always change together.
	priorContent := survivor.Content
	if len(model.NormalizeText(fact.Text)) > len(model.NormalizeText(survivor.Content)) {
		survivor.Content = fact.Text
		survivor.Embedding = embedding
	}
	if survivor.Content != priorContent {
		survivor.PushHistory(priorContent, survivor.UpdatedAt, model.ReasonMerged)
	}

	confidence := survivor.Confidence
	for _, member := range cluster {
		if member == survivor {
			continue
		}
		if member.Confidence > confidence {
			confidence = member.Confidence
		}
		// Absorbed history folds into the survivor, then the absorbed
		// record's final content is recorded as one merged entry.
		survivor.History = append(survivor.History, member.History...)
		survivor.PushHistory(member.Content, member.UpdatedAt, model.ReasonMerged)
		for _, ref := range member.SourceRefs {
			survivor.AddSourceRef(ref)
		}
	}
	survivor.Confidence = confidence
	survivor.UpdatedAt = now
	survivor.AddSourceRef(sub.ID)

	mutations := []*model.MemoryRecord{survivor}
	absorbed := make([]model.MemoryID, 0, len(cluster)-1)
	for _, member := range cluster {
		if member == survivor {
			continue
		}
		member.Status = model.StatusSuperseded
		member.UpdatedAt = now
		mutations = append(mutations, member)
		absorbed = append(absorbed, member.ID)
	}

	for i, record := range mutations {
		if err := u.updateWithRetry(ctx, record); err != nil {
			u.restore(ctx, preImagesFor(preImages, mutations[:i]))
			return failedOutcome(fact, err)
		}
	}

	return model.Outcome{
		Kind:     model.OutcomeMerged,
		Fact:     fact.Text,
		MemoryID: survivor.ID,
		Absorbed: absorbed,
	}
}

func (u *UseCase) executeIgnore(ctx context.Context, sub *model.Submission, fact model.Fact, decision model.Decision, candidates []model.Candidate) model.Outcome {
	outcome := model.Outcome{
		Kind:     model.OutcomeIgnored,
		Fact:     fact.Text,
		MemoryID: decision.Target,
		Reason:   decision.Reason,
	}

	// A rejected conflict leaves a trace: the winner's history records the
	// fact it beat. Exact duplicates mutate nothing.
	if decision.Reason == model.ReasonConflictConfidence {
		winner := findCandidate(candidates, decision.Target)
		if winner == nil {
			return failedOutcome(fact, goerr.Wrap(model.ErrMemoryNotFound, "conflict winner is not among candidates",
				goerr.V("id", decision.Target)))
		}
		winner.PushHistory(fact.Text, time.Now().UTC(), decision.Reason)
		winner.AddSourceRef(sub.ID)
		if err := u.updateWithRetry(ctx, winner); err != nil {
			return failedOutcome(fact, err)
		}
	}

	return outcome
}

// pickSurvivor chooses the merge survivor: highest confidence, then most
// recently updated, then smallest id for determinism.
func pickSurvivor(cluster []*model.MemoryRecord) *model.MemoryRecord {
	survivor := cluster[0]
	for _, member := range cluster[1:] {
		switch {
		case member.Confidence > survivor.Confidence:
			survivor = member
		case member.Confidence < survivor.Confidence:
		case member.UpdatedAt.After(survivor.UpdatedAt):
			survivor = member
		case member.UpdatedAt.Before(survivor.UpdatedAt):
		case member.ID < survivor.ID:
			survivor = member
		}
	}
	return survivor
}

// raiseConfidence moves confidence halfway toward 1 on each corroborating
// update, so it grows monotonically but never reaches certainty.
func raiseConfidence(c float64) float64 {
	return c + (1-c)/2
}

func findCandidate(candidates []model.Candidate, id model.MemoryID) *model.MemoryRecord {
	for _, c := range candidates {
		if c.Record.ID == id {
			return c.Record
		}
	}
	return nil
}

func preImagesFor(preImages, applied []*model.MemoryRecord) []*model.MemoryRecord {
	var images []*model.MemoryRecord
	for _, record := range applied {
		for _, image := range preImages {
			if image.ID == record.ID {
				images = append(images, image)
			}
		}
	}
	return images
}

// restore writes pre-images back after a partial failure. Restoration
// failures are logged, not returned: the original error is the one the
// caller reports.
func (u *UseCase) restore(ctx context.Context, images []*model.MemoryRecord) {
	for _, image := range images {
		if err := u.updateWithRetry(ctx, image); err != nil {
			logging.From(ctx).Error("failed to restore record after partial write",
				"memory_id", image.ID, "error", err)
		}
	}
}

func (u *UseCase) putWithRetry(ctx context.Context, record *model.MemoryRecord) error {
	attempts := 0
	err := backoff.Do(ctx, u.retry, func(ctx context.Context) error {
		attempts++
		return u.store.Put(ctx, record)
	}, func(err error) bool {
		return errors.Is(err, model.ErrStoreUnavailable)
	})
	// The id is pre-generated, so a duplicate on a retried attempt means the
	// ambiguous earlier write landed. On the first attempt it is an id
	// collision and fails the fact.
	if errors.Is(err, model.ErrDuplicateID) && attempts > 1 {
		return nil
	}
	return err
}

func (u *UseCase) updateWithRetry(ctx context.Context, record *model.MemoryRecord) error {
	return backoff.Do(ctx, u.retry, func(ctx context.Context) error {
		return u.store.Update(ctx, record)
	}, func(err error) bool {
		return errors.Is(err, model.ErrStoreUnavailable)
	})
}

func failedOutcome(fact model.Fact, err error) model.Outcome {
	return model.Outcome{
		Kind:  model.OutcomeFailed,
		Fact:  fact.Text,
		Error: err.Error(),
	}
}
