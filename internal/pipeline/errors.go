package pipeline

import (
	"errors"
	"fmt"

	"github.com/dvloznov/docledger/internal/extract"
)

var (
	// ErrMissingConversation is returned by Chat when no conversation key is given.
	ErrMissingConversation = errors.New("conversation key is required")
	// ErrEmptyMessage is returned by Chat for a blank user message.
	ErrEmptyMessage = errors.New("chat message is empty")
)

// StageError is returned for every failed run. Stage is the stage the run
// was trying to reach.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline failed entering %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// InvalidStructuredOutputError means the categorization reply was not JSON.
type InvalidStructuredOutputError struct {
	Raw string
}

func (e *InvalidStructuredOutputError) Error() string {
	const preview = 120
	raw := e.Raw
	if len(raw) > preview {
		raw = raw[:preview] + "..."
	}
	return fmt.Sprintf("categorization output is not valid JSON: %q", raw)
}

// ValidationBackendError means the validation model call failed.
type ValidationBackendError struct {
	Err error
}

func (e *ValidationBackendError) Error() string {
	return fmt.Sprintf("validation backend: %v", e.Err)
}

func (e *ValidationBackendError) Unwrap() error { return e.Err }

// IsClientError reports whether err was caused by the caller's input rather
// than by a backend.
func IsClientError(err error) bool {
	return errors.Is(err, extract.ErrEmptyInput) ||
		errors.Is(err, extract.ErrUnsupportedKind) ||
		errors.Is(err, ErrMissingConversation) ||
		errors.Is(err, ErrEmptyMessage)
}

// FailedStage returns the stage attached to err, if any.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
