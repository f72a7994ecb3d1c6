package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/dvloznov/docledger/internal/logger"
)

// tableSpecs lists every table with the row type its schema is inferred from.
var tableSpecs = []struct {
	name string
	row  any
}{
	{accountsTable, AccountRow{}},
	{journalEntriesTable, JournalEntryRow{}},
	{journalLinesTable, JournalLineRow{}},
	{pipelineRunsTable, PipelineRunRow{}},
	{modelOutputsTable, ModelOutputRow{}},
}

// EnsureSchema creates the dataset and any missing tables. Existing tables
// are left untouched. It returns the names of the tables it created.
func (r *Repository) EnsureSchema(ctx context.Context) ([]string, error) {
	log := logger.FromContext(ctx)

	ds := r.client.DatasetInProject(r.project, r.dataset)
	if _, err := ds.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("EnsureSchema: dataset metadata: %w", err)
		}
		if err := ds.Create(ctx, &bigquery.DatasetMetadata{}); err != nil {
			return nil, fmt.Errorf("EnsureSchema: creating dataset %s: %w", r.dataset, err)
		}
		log.Info().Str("dataset", r.dataset).Msg("created dataset")
	}

	var created []string
	for _, spec := range tableSpecs {
		t := ds.Table(spec.name)
		if _, err := t.Metadata(ctx); err == nil {
			continue
		} else if !isNotFound(err) {
			return created, fmt.Errorf("EnsureSchema: table %s metadata: %w", spec.name, err)
		}

		schema, err := bigquery.InferSchema(spec.row)
		if err != nil {
			return created, fmt.Errorf("EnsureSchema: inferring %s schema: %w", spec.name, err)
		}
		if err := t.Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil {
			return created, fmt.Errorf("EnsureSchema: creating %s: %w", spec.name, err)
		}
		log.Info().Str("table", spec.name).Msg("created table")
		created = append(created, spec.name)
	}
	return created, nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
