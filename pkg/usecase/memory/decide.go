package memory

import (
	"context"
	_ "embed"
	"encoding/json"

	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/m-mizutani/mneme/pkg/utils/logging"
)

//go:embed prompt/conflict.md
var conflictPromptRaw string

// decide is the reconciliation decision engine: a deterministic, ordered
// rule table over a fact and its ranked candidates. The first matching rule
// wins.
//
//  1. No candidate cleared the match threshold: CREATE.
//  2. The best candidate is a near-exact duplicate (similarity at or above
//     the duplicate threshold, normalized-equal text): IGNORE. Checked on
//     the best candidate regardless of count so resubmission stays
//     idempotent.
//  3. Two or more candidates form a mutual cluster (pairwise similar at or
//     above the match threshold): MERGE the cluster.
//  4. The best candidate contradicts the fact: conflict resolution. A
//     confidence gap beyond the margin keeps the higher-confidence side;
//     otherwise recency prefers the new fact. The loser is superseded,
//     never deleted.
//  5. Otherwise: UPDATE the best candidate with the new fact text.
//
// Only the conflict check calls the model, and its failure degrades to
// "non-contradictory" so rule 5 applies: on a model outage the engine keeps
// data rather than dropping it.
func (u *UseCase) decide(ctx context.Context, fact model.Fact, candidates []model.Candidate) model.Decision {
	if len(candidates) == 0 {
		return model.Decision{Kind: model.DecisionCreate}
	}

	best := candidates[0]

	if best.Similarity >= u.policy.DuplicateThreshold &&
		model.NormalizeText(best.Record.Content) == model.NormalizeText(fact.Text) {
		return model.Decision{
			Kind:   model.DecisionIgnore,
			Target: best.Record.ID,
			Reason: model.ReasonExactDuplicate,
		}
	}

	if cluster := u.mutualCluster(candidates); len(cluster) >= 2 {
		return model.Decision{
			Kind:    model.DecisionMerge,
			Targets: cluster,
		}
	}

	if u.contradicts(ctx, best.Record.Content, fact.Text) {
		return u.resolveConflict(best)
	}

	return model.Decision{
		Kind:   model.DecisionUpdate,
		Target: best.Record.ID,
	}
}

// mutualCluster grows a cluster greedily from the best candidate: a
// candidate joins only if it is pairwise similar to every member already
// chosen. Candidates merely near the new fact but not near each other stay
// out.
func (u *UseCase) mutualCluster(candidates []model.Candidate) []model.MemoryID {
	members := []model.Candidate{candidates[0]}

	for _, candidate := range candidates[1:] {
		mutual := true
		for _, member := range members {
			sim := model.Similarity(candidate.Record.Embedding, member.Record.Embedding)
			if sim < u.policy.MatchThreshold {
				mutual = false
				break
			}
		}
		if mutual {
			members = append(members, candidate)
		}
	}

	if len(members) < 2 {
		return nil
	}

	ids := make([]model.MemoryID, len(members))
	for i, member := range members {
		ids[i] = member.Record.ID
	}
	return ids
}

// resolveConflict applies the deterministic conflict policy. The new fact's
// confidence is the initial confidence a record created from it would get.
func (u *UseCase) resolveConflict(best model.Candidate) model.Decision {
	gap := best.Record.Confidence - u.policy.InitialConfidence

	if gap > u.policy.ConfidenceMargin {
		// Existing record wins: the rejected fact is recorded in its history.
		return model.Decision{
			Kind:   model.DecisionIgnore,
			Target: best.Record.ID,
			Reason: model.ReasonConflictConfidence,
		}
	}

	if -gap > u.policy.ConfidenceMargin {
		// New fact wins on confidence.
		return model.Decision{
			Kind:       model.DecisionCreate,
			Supersedes: best.Record.ID,
			Reason:     model.ReasonConflictConfidence,
		}
	}

	// Comparable confidence: recency prefers the new fact.
	return model.Decision{
		Kind:       model.DecisionCreate,
		Supersedes: best.Record.ID,
		Reason:     model.ReasonConflictRecency,
	}
}

type conflictInput struct {
	Existing string `json:"existing"`
	New      string `json:"new"`
}

// contradicts classifies a fact pair with a secondary model call. Any
// failure returns false: the engine fails open toward UPDATE rather than
// risking data loss on a transient outage.
func (u *UseCase) contradicts(ctx context.Context, existing, newFact string) bool {
	key := verdictKey(existing, newFact)
	if cached, ok := u.verdicts.Get(key); ok {
		return cached.(bool)
	}

	input, err := json.Marshal(conflictInput{Existing: existing, New: newFact})
	if err != nil {
		return false
	}

	response, err := u.generator.Generate(ctx, conflictPromptRaw, string(input))
	if err != nil {
		logging.From(ctx).Warn("conflict classification degraded, assuming non-contradictory",
			"error", err)
		return false
	}

	verdict, ok := parseVerdict(response)
	if !ok {
		logging.From(ctx).Warn("conflict classification degraded: unparseable verdict",
			"response", response)
		return false
	}

	// Flush the buffered write so a re-submission of the same pair never
	// pays for a second classification.
	u.verdicts.Set(key, verdict, 1)
	u.verdicts.Wait()
	return verdict
}

// verdictKey is order-insensitive: classifying (a,b) answers (b,a) too.
func verdictKey(a, b string) string {
	a = model.NormalizeText(a)
	b = model.NormalizeText(b)
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}
