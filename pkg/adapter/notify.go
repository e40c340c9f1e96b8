package adapter

import (
	"context"

	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/m-mizutani/mneme/pkg/utils/logging"
)

// Notifier receives diagnostic events from the reconciliation pipeline.
// Implementations are fire-and-forget: they must never block core work
// and never surface errors to it.
type Notifier interface {
	// EmptyExtraction reports a submission whose extraction produced no
	// facts. The raw model output is attached for debugging.
	EmptyExtraction(ctx context.Context, sub model.Submission, raw string)

	// Outcome reports the result of reconciling a single fact.
	Outcome(ctx context.Context, sub model.Submission, outcome model.Outcome)
}

// LogNotifier writes diagnostic events to the context logger.
type LogNotifier struct{}

var _ Notifier = (*LogNotifier)(nil)

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) EmptyExtraction(ctx context.Context, sub model.Submission, raw string) {
	logging.From(ctx).Info("no facts extracted from submission",
		"owner_id", sub.OwnerID,
		"submission_id", sub.ID,
		"raw_output", truncate(raw, 200),
	)
}

func (n *LogNotifier) Outcome(ctx context.Context, sub model.Submission, outcome model.Outcome) {
	logger := logging.From(ctx)
	if outcome.Kind == model.OutcomeFailed {
		logger.Warn("fact reconciliation failed",
			"owner_id", sub.OwnerID,
			"submission_id", sub.ID,
			"fact", truncate(outcome.Fact, 200),
			"error", outcome.Error,
		)
		return
	}

	logger.Debug("fact reconciled",
		"owner_id", sub.OwnerID,
		"submission_id", sub.ID,
		"outcome", outcome.Kind,
		"memory_id", outcome.MemoryID,
		"reason", outcome.Reason,
	)
}

// MultiNotifier fans out each event to all given notifiers in order.
func MultiNotifier(notifiers ...Notifier) Notifier {
	return &multiNotifier{notifiers: notifiers}
}

type multiNotifier struct {
	notifiers []Notifier
}

func (n *multiNotifier) EmptyExtraction(ctx context.Context, sub model.Submission, raw string) {
	for _, notifier := range n.notifiers {
		notifier.EmptyExtraction(ctx, sub, raw)
	}
}

func (n *multiNotifier) Outcome(ctx context.Context, sub model.Submission, outcome model.Outcome) {
	for _, notifier := range n.notifiers {
		notifier.Outcome(ctx, sub, outcome)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
