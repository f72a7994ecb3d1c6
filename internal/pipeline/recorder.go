package pipeline

import (
	"context"

	"github.com/dvloznov/docledger/internal/logger"
	"github.com/dvloznov/docledger/internal/prompt"
)

// RunRecorder persists run progress and raw model replies. Both the BigQuery
// repository and the SQLite store implement it.
type RunRecorder interface {
	StartRun(ctx context.Context, storageRef string) (string, error)
	RecordStage(ctx context.Context, runID, stage string) error
	RecordModelOutput(ctx context.Context, runID, useCase, model, raw string) error
	FinishRun(ctx context.Context, runID, stage string, runErr error)
}

// OutputRecorder stores model replies for one model. The zero value records
// nothing.
type OutputRecorder struct {
	Recorder RunRecorder
	Model    string
}

// record never fails the run; recording problems are logged.
func (o OutputRecorder) record(ctx context.Context, runID string, useCase prompt.UseCase, raw string) {
	if o.Recorder == nil || runID == "" {
		return
	}
	if err := o.Recorder.RecordModelOutput(ctx, runID, string(useCase), o.Model, raw); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("run_id", runID).Str("use_case", string(useCase)).Msg("recording model output")
	}
}
