// Package prompt builds the role-tagged message sets sent to the model.
package prompt

import (
	"fmt"
	"strings"

	"github.com/dvloznov/docledger/internal/domain"
)

// Request is a fully composed model call.
type Request struct {
	UseCase  UseCase
	System   string
	Messages []domain.ChatMessage
	Spec     Spec
}

// Composer renders instruction templates and assembles message lists.
type Composer struct {
	sampling map[UseCase]Sampling
}

// NewComposer creates a Composer. Use cases missing from sampling fall back
// to DefaultSampling.
func NewComposer(sampling map[UseCase]Sampling) *Composer {
	merged := DefaultSampling()
	for uc, s := range sampling {
		merged[uc] = s
	}
	return &Composer{sampling: merged}
}

// CategorizeWith builds the categorize payload from a chart of accounts.
func CategorizeWith(accounts []domain.AccountReference) CategorizePayload {
	lines := make([]AccountLine, 0, len(accounts))
	for _, a := range accounts {
		lines = append(lines, AccountLine{
			Code: oneLine(a.Code),
			Name: oneLine(a.Name),
			Type: oneLine(string(a.Type)),
		})
	}
	return CategorizePayload{Accounts: lines}
}

// Instruction renders the system instruction for useCase. payload must be a
// CategorizePayload for Categorize and is ignored otherwise.
func (c *Composer) Instruction(useCase UseCase, payload any) (string, error) {
	tmpl, ok := templates[useCase]
	if !ok {
		return "", fmt.Errorf("Composer.Instruction: unknown use case %q", useCase)
	}

	data := payload
	if useCase == Categorize {
		p, ok := payload.(CategorizePayload)
		if !ok {
			return "", fmt.Errorf("Composer.Instruction: categorize wants CategorizePayload, got %T", payload)
		}
		data = p
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("Composer.Instruction: rendering %s: %w", useCase, err)
	}
	return b.String(), nil
}

// Spec returns the instruction and sampling parameters for useCase.
func (c *Composer) Spec(useCase UseCase, payload any) (Spec, error) {
	instruction, err := c.Instruction(useCase, payload)
	if err != nil {
		return Spec{}, err
	}
	s := c.sampling[useCase]
	return Spec{
		SystemInstruction: instruction,
		Temperature:       s.Temperature,
		TopP:              s.TopP,
		MaxTokens:         s.MaxTokens,
	}, nil
}

// Compose returns a fresh request whose messages are history followed by a
// new user turn carrying userText. history is copied, never modified.
func (c *Composer) Compose(useCase UseCase, payload any, history []domain.ChatMessage, userText string) (Request, error) {
	spec, err := c.Spec(useCase, payload)
	if err != nil {
		return Request{}, err
	}

	msgs := make([]domain.ChatMessage, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, domain.ChatMessage{Role: domain.RoleUser, Content: userText})

	return Request{
		UseCase:  useCase,
		System:   spec.SystemInstruction,
		Messages: msgs,
		Spec:     spec,
	}, nil
}

// ComposeTurn wraps an already pruned sequence whose last element is the new
// user turn.
func (c *Composer) ComposeTurn(useCase UseCase, payload any, pruned []domain.ChatMessage) (Request, error) {
	if len(pruned) == 0 || pruned[len(pruned)-1].Role != domain.RoleUser {
		return Request{}, fmt.Errorf("Composer.ComposeTurn: sequence must end with a user turn")
	}
	last := pruned[len(pruned)-1]
	return c.Compose(useCase, payload, pruned[:len(pruned)-1], last.Content)
}

// oneLine keeps account fields from breaking the one-account-per-line layout.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
