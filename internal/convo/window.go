// Package convo keeps bounded conversational context for model calls.
package convo

import (
	"context"
	"fmt"

	"github.com/dvloznov/docledger/internal/domain"
)

// Message is one stored conversation turn.
type Message = domain.ChatMessage

// TokenEstimator approximates the model-input size of a message sequence.
type TokenEstimator interface {
	Estimate(msgs []Message) int
}

// CharEstimator is the default estimator: total characters of all message
// contents divided by four. It is a rough heuristic, not a tokenizer; swap in
// an exact estimator without changing Prune.
type CharEstimator struct{}

// Estimate implements TokenEstimator.
func (CharEstimator) Estimate(msgs []Message) int {
	chars := 0
	for _, m := range msgs {
		chars += len([]rune(m.Content))
	}
	return chars / 4
}

// EstimatorFunc adapts a function to TokenEstimator.
type EstimatorFunc func(msgs []Message) int

// Estimate implements TokenEstimator.
func (f EstimatorFunc) Estimate(msgs []Message) int { return f(msgs) }

// Prune returns history followed by next, dropping the oldest messages until
// the estimate fits budget or only next remains. next is never dropped or
// truncated, even when it alone exceeds budget. history is not modified.
func Prune(history []Message, next Message, budget int, est TokenEstimator) []Message {
	if est == nil {
		est = CharEstimator{}
	}

	msgs := make([]Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, next)

	for len(msgs) > 1 && est.Estimate(msgs) > budget {
		msgs = msgs[1:]
	}
	return msgs
}

// Window binds a Store to a token budget.
type Window struct {
	Store     Store
	Estimator TokenEstimator
	Budget    int
}

// NewWindow creates a Window using the character heuristic.
func NewWindow(store Store, budget int) *Window {
	return &Window{Store: store, Estimator: CharEstimator{}, Budget: budget}
}

// Prepare loads the history for key and returns the pruned sequence that ends
// with the new user turn. The store is not changed.
func (w *Window) Prepare(ctx context.Context, key, userText string) ([]Message, error) {
	history, err := w.Store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("Window.Prepare: loading %q: %w", key, err)
	}
	return Prune(history, Message{Role: domain.RoleUser, Content: userText}, w.Budget, w.Estimator), nil
}

// Record drops the messages Prepare pruned away from the front of the stored
// history, then appends the user turn and the assistant reply. Call it only
// after the model call succeeded, while holding the key's lock.
func (w *Window) Record(ctx context.Context, key, userText, reply string) error {
	history, err := w.Store.Load(ctx, key)
	if err != nil {
		return fmt.Errorf("Window.Record: loading %q: %w", key, err)
	}

	next := Message{Role: domain.RoleUser, Content: userText}
	kept := Prune(history, next, w.Budget, w.Estimator)
	if dropped := len(history) + 1 - len(kept); dropped > 0 {
		if err := w.Store.TrimFront(ctx, key, dropped); err != nil {
			return fmt.Errorf("Window.Record: trimming %q: %w", key, err)
		}
	}

	err = w.Store.Append(ctx, key, next, Message{Role: domain.RoleAssistant, Content: reply})
	if err != nil {
		return fmt.Errorf("Window.Record: appending to %q: %w", key, err)
	}
	return nil
}
