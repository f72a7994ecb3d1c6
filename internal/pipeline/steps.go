package pipeline

import (
	"context"
	"encoding/json"
	"path"
	"time"

	"github.com/dvloznov/docledger/internal/domain"
	"github.com/dvloznov/docledger/internal/logger"
	"github.com/dvloznov/docledger/internal/normalize"
	"github.com/dvloznov/docledger/internal/prompt"
)

// Stage is a point in a document's run. Runs move forward one stage at a
// time; FAILED can be reached from any stage and is final.
type Stage string

const (
	StageReceived    Stage = "RECEIVED"
	StageExtracted   Stage = "EXTRACTED"
	StageCategorized Stage = "CATEGORIZED"
	StageValidated   Stage = "VALIDATED"
	StageComplete    Stage = "COMPLETE"
	StageFailed      Stage = "FAILED"
)

// State holds the shared state across all pipeline steps.
type State struct {
	Request Request
	RunID   string
	Stage   Stage

	Text           string
	StructuredData json.RawMessage
	Validation     *normalize.Result
	Drafts         []domain.JournalEntryDraft
	Findings       []domain.Finding

	Result *Result
}

// Step is a single stage transition.
type Step interface {
	// Stage is the stage reached when Execute succeeds.
	Stage() Stage
	Execute(ctx context.Context, state *State) error
}

// ExtractStep pulls text out of the submitted document.
type ExtractStep struct {
	Extractor DocumentExtractor
}

func (s *ExtractStep) Stage() Stage { return StageExtracted }

func (s *ExtractStep) Execute(ctx context.Context, state *State) error {
	name := state.Request.Filename
	if name == "" {
		name = path.Base(state.Request.StorageReference)
	}

	doc, err := s.Extractor.ExtractFile(ctx, name, state.Request.Document)
	if err != nil {
		return err
	}
	if doc.IsEmpty() {
		log := logger.FromContext(ctx)
		log.Warn().Msg("document has no extractable text")
	}
	state.Text = doc.Text
	return nil
}

// CategorizeStep asks the model for journal entry drafts against the
// caller's chart of accounts.
type CategorizeStep struct {
	Composer *prompt.Composer
	Invoker  ModelInvoker
	Outputs  OutputRecorder
}

func (s *CategorizeStep) Stage() Stage { return StageCategorized }

func (s *CategorizeStep) Execute(ctx context.Context, state *State) error {
	log := logger.FromContext(ctx)

	req, err := s.Composer.Compose(prompt.Categorize, prompt.CategorizeWith(state.Request.Accounts), nil, state.Text)
	if err != nil {
		return err
	}

	raw, err := s.Invoker.Invoke(ctx, req)
	if err != nil {
		return err
	}
	s.Outputs.record(ctx, state.RunID, prompt.Categorize, raw)

	res := normalize.Normalize(raw)
	if !res.IsJSON() {
		return &InvalidStructuredOutputError{Raw: raw}
	}
	state.StructuredData = res.JSON

	// Drafts are decoded only for advisory inspection and persistence; a
	// shape mismatch does not fail the run.
	drafts, err := domain.DecodeDrafts(res.JSON)
	if err != nil {
		log.Warn().Err(err).Msg("categorization JSON is not a list of journal drafts")
		return nil
	}
	state.Drafts = drafts
	state.Findings = domain.Inspect(drafts, state.Request.Accounts)
	if len(state.Findings) > 0 {
		log.Warn().Int("drafts", len(drafts)).Int("findings", len(state.Findings)).Msg("journal drafts have findings")
	}
	return nil
}

// ValidateStep reviews the categorization JSON for compliance issues.
type ValidateStep struct {
	Composer *prompt.Composer
	Invoker  ModelInvoker
	Outputs  OutputRecorder
}

func (s *ValidateStep) Stage() Stage { return StageValidated }

func (s *ValidateStep) Execute(ctx context.Context, state *State) error {
	req, err := s.Composer.Compose(prompt.Validate, nil, nil, string(state.StructuredData))
	if err != nil {
		return err
	}

	raw, err := s.Invoker.Invoke(ctx, req)
	if err != nil {
		return &ValidationBackendError{Err: err}
	}
	s.Outputs.record(ctx, state.RunID, prompt.Validate, raw)

	res := normalize.Normalize(raw)
	state.Validation = &res
	return nil
}

// AssembleStep builds the final result.
type AssembleStep struct{}

func (s *AssembleStep) Stage() Stage { return StageComplete }

func (s *AssembleStep) Execute(ctx context.Context, state *State) error {
	state.Result = &Result{
		StorageReference: state.Request.StorageReference,
		StructuredData:   state.StructuredData,
		ValidationResult: state.Validation,
		Findings:         state.Findings,
		Drafts:           state.Drafts,
		RunID:            state.RunID,
	}
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps   []Step
	onStage func(ctx context.Context, state *State)
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// OnStage registers fn to run after every successful step.
func (p *Pipeline) OnStage(fn func(ctx context.Context, state *State)) *Pipeline {
	p.onStage = fn
	return p
}

// Execute runs all steps sequentially and stops at the first failure, which
// is returned as a *StageError. state.Stage is FAILED afterwards.
func (p *Pipeline) Execute(ctx context.Context, state *State) error {
	log := logger.FromContext(ctx)

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			state.Stage = StageFailed
			return &StageError{Stage: step.Stage(), Err: err}
		}

		start := time.Now()
		if err := step.Execute(ctx, state); err != nil {
			state.Stage = StageFailed
			return &StageError{Stage: step.Stage(), Err: err}
		}
		state.Stage = step.Stage()

		log.Info().
			Str("stage", string(state.Stage)).
			Dur("elapsed", time.Since(start)).
			Msg("stage reached")

		if p.onStage != nil {
			p.onStage(ctx, state)
		}
	}
	return nil
}
