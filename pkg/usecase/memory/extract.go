package memory

import (
	"context"
	_ "embed"
	"strings"
	"time"

	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/m-mizutani/mneme/pkg/utils/logging"
	"github.com/pkoukk/tiktoken-go"
)

//go:embed prompt/extract.md
var extractPromptRaw string

// Extract turns a submission into atomic facts. Empty input short-circuits
// without a model call; an unparseable model response degrades to an empty
// list and is reported to the notifier, never to the caller. When the
// submission disables inference the trimmed text becomes the single fact.
func (u *UseCase) Extract(ctx context.Context, sub *model.Submission) []model.Fact {
	text := strings.TrimSpace(sub.Text)
	if text == "" {
		return nil
	}

	now := time.Now()
	if !sub.Infer {
		return []model.Fact{{
			Text:        text,
			Source:      sub.ID,
			OwnerID:     sub.OwnerID,
			ExtractedAt: now,
		}}
	}

	text = u.truncateInput(ctx, text)

	response, err := u.generator.Generate(ctx, extractPromptRaw, "Input:\n"+text)
	if err != nil {
		// Extraction failure is never fatal to the caller.
		logging.From(ctx).Warn("fact extraction degraded: generation failed",
			"owner_id", sub.OwnerID, "submission_id", sub.ID, "error", err)
		u.notifier.EmptyExtraction(ctx, *sub, "")
		return nil
	}

	raw := parseFacts(response)
	if len(raw) == 0 {
		u.notifier.EmptyExtraction(ctx, *sub, response)
		return nil
	}

	// Trim and drop duplicates within the batch so the embed fan-out never
	// pays for the same text twice.
	seen := make(map[string]bool, len(raw))
	var facts []model.Fact
	for _, text := range raw {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		key := model.NormalizeText(text)
		if seen[key] {
			continue
		}
		seen[key] = true

		facts = append(facts, model.Fact{
			Text:        text,
			Source:      sub.ID,
			OwnerID:     sub.OwnerID,
			ExtractedAt: now,
		})
	}

	if len(facts) == 0 {
		u.notifier.EmptyExtraction(ctx, *sub, response)
	}
	return facts
}

// truncateInput enforces the input token budget when one is configured.
func (u *UseCase) truncateInput(ctx context.Context, text string) string {
	if u.policy.MaxInputTokens <= 0 {
		return text
	}

	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logging.From(ctx).Warn("failed to load token encoder, skipping input guard", "error", err)
		return text
	}

	tokens := encoder.Encode(text, nil, nil)
	if len(tokens) <= u.policy.MaxInputTokens {
		return text
	}

	logging.From(ctx).Info("truncating oversized submission",
		"tokens", len(tokens), "max_tokens", u.policy.MaxInputTokens)
	return encoder.Decode(tokens[:u.policy.MaxInputTokens])
}
