// Package bigquery persists the chart of accounts, journal drafts and
// pipeline run history in BigQuery.
package bigquery

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
)

// Table names inside the configured dataset.
const (
	accountsTable       = "accounts"
	journalEntriesTable = "journal_entries"
	journalLinesTable   = "journal_lines"
	pipelineRunsTable   = "pipeline_runs"
	modelOutputsTable   = "model_outputs"
)

// Repository holds one shared BigQuery client bound to a project and dataset.
type Repository struct {
	client  *bigquery.Client
	project string
	dataset string
}

// NewRepository creates a client for project. dataset defaults to
// "docledger".
func NewRepository(ctx context.Context, project, dataset string) (*Repository, error) {
	if project == "" {
		return nil, errors.New("NewRepository: project is required")
	}
	if dataset == "" {
		dataset = "docledger"
	}
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return &Repository{client: client, project: project, dataset: dataset}, nil
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// table returns the backtick-quoted fully qualified name of a table.
func (r *Repository) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", r.project, r.dataset, name)
}

// exec runs a DML statement and waits for it. DML is used instead of the
// streaming inserter so rows can be updated or deleted right away.
func (r *Repository) exec(ctx context.Context, op, sql string, params []bigquery.QueryParameter) error {
	q := r.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("%s: running query: %w", op, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("%s: job error: %w", op, err)
	}
	return nil
}
