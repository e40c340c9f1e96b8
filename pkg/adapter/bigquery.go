package adapter

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mneme/pkg/model"
	"github.com/m-mizutani/mneme/pkg/utils/logging"
)

// AuditRow is one reconciliation event written to the audit table. A row is
// produced per fact outcome and per zero-fact extraction.
type AuditRow struct {
	Timestamp    time.Time `bigquery:"timestamp"`
	OwnerID      string    `bigquery:"owner_id"`
	SubmissionID string    `bigquery:"submission_id"`
	Event        string    `bigquery:"event"`
	Fact         string    `bigquery:"fact"`
	Outcome      string    `bigquery:"outcome"`
	MemoryID     string    `bigquery:"memory_id"`
	Reason       string    `bigquery:"reason"`
	Error        string    `bigquery:"error"`
}

// BigQueryNotifier streams reconciliation outcomes into a BigQuery table for
// offline analysis (threshold tuning, prompt debugging). It implements
// Notifier: insert failures are logged and dropped, never surfaced.
type BigQueryNotifier struct {
	inserter *bigquery.Inserter
	client   *bigquery.Client
}

var _ Notifier = (*BigQueryNotifier)(nil)

// NewBigQueryNotifier creates an audit sink writing to projectID.datasetID.tableID.
func NewBigQueryNotifier(ctx context.Context, projectID, datasetID, tableID string) (*BigQueryNotifier, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create bigquery client", goerr.V("project", projectID))
	}

	return &BigQueryNotifier{
		client:   client,
		inserter: client.Dataset(datasetID).Table(tableID).Inserter(),
	}, nil
}

func (n *BigQueryNotifier) EmptyExtraction(ctx context.Context, sub model.Submission, raw string) {
	n.put(ctx, &AuditRow{
		Timestamp:    time.Now(),
		OwnerID:      string(sub.OwnerID),
		SubmissionID: sub.ID,
		Event:        "empty_extraction",
		Fact:         truncate(raw, 1024),
	})
}

func (n *BigQueryNotifier) Outcome(ctx context.Context, sub model.Submission, outcome model.Outcome) {
	n.put(ctx, &AuditRow{
		Timestamp:    time.Now(),
		OwnerID:      string(sub.OwnerID),
		SubmissionID: sub.ID,
		Event:        "outcome",
		Fact:         truncate(outcome.Fact, 1024),
		Outcome:      string(outcome.Kind),
		MemoryID:     string(outcome.MemoryID),
		Reason:       outcome.Reason,
		Error:        outcome.Error,
	})
}

func (n *BigQueryNotifier) put(ctx context.Context, row *AuditRow) {
	if err := n.inserter.Put(ctx, row); err != nil {
		logging.From(ctx).Warn("failed to insert audit row", "error", err)
	}
}

// Close releases the underlying BigQuery client.
func (n *BigQueryNotifier) Close() error {
	return n.client.Close()
}
