package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/dvloznov/docledger/internal/logger"
)

// Run statuses.
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

const maxErrorMessage = 2000

// PipelineRunRow tracks one document through the pipeline stages.
type PipelineRunRow struct {
	RunID            string                 `bigquery:"run_id"`            // REQUIRED
	StorageReference string                 `bigquery:"storage_reference"` // REQUIRED
	StartedTS        time.Time              `bigquery:"started_ts"`        // REQUIRED
	FinishedTS       bigquery.NullTimestamp `bigquery:"finished_ts"`       // NULLABLE
	Stage            string                 `bigquery:"stage"`             // REQUIRED
	Status           string                 `bigquery:"status"`            // REQUIRED
	ErrorMessage     string                 `bigquery:"error_message"`     // NULLABLE
}

// ModelOutputRow is one raw model reply, kept for audit and prompt tuning.
type ModelOutputRow struct {
	OutputID  string              `bigquery:"output_id"`  // REQUIRED
	RunID     string              `bigquery:"run_id"`     // REQUIRED
	UseCase   string              `bigquery:"use_case"`   // REQUIRED
	ModelName string              `bigquery:"model_name"` // REQUIRED
	RawJSON   bigquery.NullJSON   `bigquery:"raw_json"`   // NULLABLE, set when the reply is valid JSON
	RawText   bigquery.NullString `bigquery:"raw_text"`   // NULLABLE, set otherwise
	CreatedTS time.Time           `bigquery:"created_ts"` // REQUIRED
}

// StartRun inserts a RUNNING run and returns its id.
func (r *Repository) StartRun(ctx context.Context, storageRef string) (string, error) {
	runID := uuid.NewString()

	err := r.exec(ctx, "StartRun", fmt.Sprintf(`
		INSERT INTO %s (run_id, storage_reference, started_ts, stage, status)
		VALUES (@run_id, @storage_reference, @started_ts, @stage, @status)
	`, r.table(pipelineRunsTable)), []bigquery.QueryParameter{
		{Name: "run_id", Value: runID},
		{Name: "storage_reference", Value: storageRef},
		{Name: "started_ts", Value: time.Now()},
		{Name: "stage", Value: "RECEIVED"},
		{Name: "status", Value: RunStatusRunning},
	})
	if err != nil {
		return "", err
	}
	return runID, nil
}

// RecordStage moves a run to stage.
func (r *Repository) RecordStage(ctx context.Context, runID, stage string) error {
	return r.exec(ctx, "RecordStage", fmt.Sprintf(`
		UPDATE %s SET stage = @stage WHERE run_id = @run_id
	`, r.table(pipelineRunsTable)), []bigquery.QueryParameter{
		{Name: "stage", Value: stage},
		{Name: "run_id", Value: runID},
	})
}

// RecordModelOutput stores one raw reply.
func (r *Repository) RecordModelOutput(ctx context.Context, runID, useCase, model, raw string) error {
	row := modelOutputRow(runID, useCase, model, raw, time.Now(), uuid.NewString())

	return r.exec(ctx, "RecordModelOutput", fmt.Sprintf(`
		INSERT INTO %s (output_id, run_id, use_case, model_name, raw_json, raw_text, created_ts)
		VALUES (@output_id, @run_id, @use_case, @model_name, @raw_json, @raw_text, @created_ts)
	`, r.table(modelOutputsTable)), []bigquery.QueryParameter{
		{Name: "output_id", Value: row.OutputID},
		{Name: "run_id", Value: row.RunID},
		{Name: "use_case", Value: row.UseCase},
		{Name: "model_name", Value: row.ModelName},
		{Name: "raw_json", Value: row.RawJSON},
		{Name: "raw_text", Value: row.RawText},
		{Name: "created_ts", Value: row.CreatedTS},
	})
}

func modelOutputRow(runID, useCase, model, raw string, now time.Time, id string) ModelOutputRow {
	row := ModelOutputRow{
		OutputID:  id,
		RunID:     runID,
		UseCase:   useCase,
		ModelName: model,
		CreatedTS: now,
	}
	if json.Valid([]byte(raw)) {
		row.RawJSON = bigquery.NullJSON{JSONVal: raw, Valid: true}
	} else {
		row.RawText = bigquery.NullString{StringVal: raw, Valid: true}
	}
	return row
}

// FinishRun marks a run SUCCESS, or FAILED when runErr is set. Failures to
// record are logged, never returned, so they cannot mask runErr.
func (r *Repository) FinishRun(ctx context.Context, runID, stage string, runErr error) {
	log := logger.FromContext(ctx)

	status := RunStatusSuccess
	if runErr != nil {
		status = RunStatusFailed
	}

	err := r.exec(ctx, "FinishRun", fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    stage = @stage,
		    finished_ts = @finished_ts,
		    error_message = @error_message
		WHERE run_id = @run_id
	`, r.table(pipelineRunsTable)), []bigquery.QueryParameter{
		{Name: "status", Value: status},
		{Name: "stage", Value: stage},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: truncateError(runErr)},
		{Name: "run_id", Value: runID},
	})
	if err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("FinishRun: recording run status")
	}
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	return msg
}
