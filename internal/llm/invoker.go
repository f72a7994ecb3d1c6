// Package llm sends composed prompts to a hosted model and returns its text.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/docledger/internal/domain"
	"github.com/dvloznov/docledger/internal/logger"
	"github.com/dvloznov/docledger/internal/prompt"
)

// ErrEmptyReply is returned when the model answered without any text block.
var ErrEmptyReply = errors.New("model returned no text")

// Call is a provider-neutral model request.
type Call struct {
	Model       string
	System      string
	Messages    []domain.ChatMessage
	Temperature float32
	TopP        float32
	MaxTokens   int
}

// Reply is the first text block of a model response.
type Reply struct {
	Role domain.Role
	Text string
}

// Backend is one hosted model API.
type Backend interface {
	Generate(ctx context.Context, call Call) (Reply, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, call Call) (Reply, error)

func (f BackendFunc) Generate(ctx context.Context, call Call) (Reply, error) {
	return f(ctx, call)
}

// ModelInvocationError reports a failed model call. Cause carries the
// provider error unchanged.
type ModelInvocationError struct {
	Model string
	Cause error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("invoking model %s: %v", e.Model, e.Cause)
}

func (e *ModelInvocationError) Unwrap() error { return e.Cause }

// Invoker performs exactly one backend call per Invoke. It does not retry.
type Invoker struct {
	Backend Backend
	Model   string
}

// NewInvoker creates an Invoker bound to model.
func NewInvoker(backend Backend, model string) *Invoker {
	return &Invoker{Backend: backend, Model: model}
}

// Invoke sends req and returns the reply text.
func (i *Invoker) Invoke(ctx context.Context, req prompt.Request) (string, error) {
	log := logger.FromContext(ctx)

	if err := ctx.Err(); err != nil {
		return "", &ModelInvocationError{Model: i.Model, Cause: err}
	}

	call := Call{
		Model:       i.Model,
		System:      req.System,
		Messages:    req.Messages,
		Temperature: req.Spec.Temperature,
		TopP:        req.Spec.TopP,
		MaxTokens:   req.Spec.MaxTokens,
	}

	start := time.Now()
	reply, err := i.Backend.Generate(ctx, call)
	if err != nil {
		log.Warn().Err(err).Str("model", i.Model).Str("use_case", string(req.UseCase)).Msg("model call failed")
		return "", &ModelInvocationError{Model: i.Model, Cause: err}
	}
	if strings.TrimSpace(reply.Text) == "" {
		return "", &ModelInvocationError{Model: i.Model, Cause: ErrEmptyReply}
	}

	log.Debug().
		Str("model", i.Model).
		Str("use_case", string(req.UseCase)).
		Int("reply_chars", len(reply.Text)).
		Dur("elapsed", time.Since(start)).
		Msg("model call complete")

	return reply.Text, nil
}
