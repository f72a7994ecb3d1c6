// Package pipeline sequences extraction, categorization and validation of
// one document, and runs bounded-context chat turns.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/docledger/internal/convo"
	"github.com/dvloznov/docledger/internal/domain"
	"github.com/dvloznov/docledger/internal/logger"
	"github.com/dvloznov/docledger/internal/normalize"
	"github.com/dvloznov/docledger/internal/prompt"
)

// DocumentExtractor turns an uploaded file into text.
type DocumentExtractor interface {
	ExtractFile(ctx context.Context, filename string, data []byte) (domain.ExtractedDocument, error)
}

// ModelInvoker sends one composed request to the model.
type ModelInvoker interface {
	Invoke(ctx context.Context, req prompt.Request) (string, error)
}

// Request is one document submitted for processing.
type Request struct {
	StorageReference string
	Document         []byte
	// Filename selects the file kind. The base of StorageReference is used
	// when it is empty.
	Filename       string
	Accounts       []domain.AccountReference
	SkipValidation bool
}

// Result is the final payload of a completed run.
type Result struct {
	StorageReference string            `json:"storage_reference"`
	StructuredData   json.RawMessage   `json:"structured_data"`
	ValidationResult *normalize.Result `json:"validation_result"`
	Findings         []domain.Finding  `json:"findings,omitempty"`

	Drafts []domain.JournalEntryDraft `json:"-"`
	RunID  string                     `json:"-"`
}

// Orchestrator runs documents through the pipeline and serves chat turns.
type Orchestrator struct {
	extractor DocumentExtractor
	composer  *prompt.Composer
	invoker   ModelInvoker
	window    *convo.Window
	outputs   OutputRecorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder records runs and the replies of model through r.
func WithRecorder(r RunRecorder, model string) Option {
	return func(o *Orchestrator) {
		o.outputs = OutputRecorder{Recorder: r, Model: model}
	}
}

// WithWindow enables Chat using w for conversation context.
func WithWindow(w *convo.Window) Option {
	return func(o *Orchestrator) {
		o.window = w
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(extractor DocumentExtractor, composer *prompt.Composer, invoker ModelInvoker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		extractor: extractor,
		composer:  composer,
		invoker:   invoker,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) pipeline(req Request) *Pipeline {
	steps := []Step{
		&ExtractStep{Extractor: o.extractor},
		&CategorizeStep{Composer: o.composer, Invoker: o.invoker, Outputs: o.outputs},
	}
	if !req.SkipValidation {
		steps = append(steps, &ValidateStep{Composer: o.composer, Invoker: o.invoker, Outputs: o.outputs})
	}
	steps = append(steps, &AssembleStep{})
	return NewPipeline(steps...).OnStage(o.recordStage)
}

// Process runs one document from RECEIVED to COMPLETE. Any failure is
// returned as a *StageError wrapping the original error; nothing is retried.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Result, error) {
	log := logger.FromContext(ctx).With().Str("document", req.StorageReference).Logger()
	ctx = logger.WithContext(ctx, log)

	start := time.Now()
	state := &State{Request: req, Stage: StageReceived}
	state.RunID = o.startRun(ctx, req.StorageReference)

	if err := o.pipeline(req).Execute(ctx, state); err != nil {
		failed, _ := FailedStage(err)
		o.finishRun(ctx, state.RunID, failed, err)
		log.Error().Err(err).Str("stage", string(failed)).Dur("elapsed", time.Since(start)).Msg("pipeline failed")
		return nil, err
	}

	o.finishRun(ctx, state.RunID, state.Stage, nil)
	log.Info().
		Dur("elapsed", time.Since(start)).
		Int("drafts", len(state.Drafts)).
		Bool("validated", state.Validation != nil).
		Msg("pipeline complete")
	return state.Result, nil
}

func (o *Orchestrator) startRun(ctx context.Context, ref string) string {
	if o.outputs.Recorder == nil {
		return ""
	}
	runID, err := o.outputs.Recorder.StartRun(ctx, ref)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("starting run record, continuing unrecorded")
		return ""
	}
	return runID
}

func (o *Orchestrator) recordStage(ctx context.Context, state *State) {
	if o.outputs.Recorder == nil || state.RunID == "" {
		return
	}
	if err := o.outputs.Recorder.RecordStage(ctx, state.RunID, string(state.Stage)); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("run_id", state.RunID).Msg("recording stage")
	}
}

func (o *Orchestrator) finishRun(ctx context.Context, runID string, stage Stage, runErr error) {
	if o.outputs.Recorder == nil || runID == "" {
		return
	}
	o.outputs.Recorder.FinishRun(ctx, runID, string(stage), runErr)
}

// Chat runs one conversational turn for key. Turns for the same key are
// serialized. The history is only extended when the model call succeeds.
func (o *Orchestrator) Chat(ctx context.Context, key, text string) (normalize.Result, error) {
	if o.window == nil {
		return normalize.Result{}, errors.New("Orchestrator.Chat: chat is not configured")
	}
	if strings.TrimSpace(key) == "" {
		return normalize.Result{}, ErrMissingConversation
	}
	if strings.TrimSpace(text) == "" {
		return normalize.Result{}, ErrEmptyMessage
	}

	log := logger.FromContext(ctx).With().Str("conversation", key).Logger()
	ctx = logger.WithContext(ctx, log)

	unlock := o.window.Store.Lock(key)
	defer unlock()

	msgs, err := o.window.Prepare(ctx, key, text)
	if err != nil {
		return normalize.Result{}, fmt.Errorf("Orchestrator.Chat: %w", err)
	}

	req, err := o.composer.ComposeTurn(prompt.Chat, nil, msgs)
	if err != nil {
		return normalize.Result{}, fmt.Errorf("Orchestrator.Chat: %w", err)
	}

	raw, err := o.invoker.Invoke(ctx, req)
	if err != nil {
		return normalize.Result{}, err
	}

	if err := o.window.Record(ctx, key, text, raw); err != nil {
		return normalize.Result{}, fmt.Errorf("Orchestrator.Chat: %w", err)
	}

	log.Debug().Int("context_messages", len(msgs)).Msg("chat turn complete")
	return normalize.Normalize(raw), nil
}
