package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dvloznov/docledger/internal/domain"
)

// DefaultAnthropicModel is used when no model name is configured.
const DefaultAnthropicModel = "claude-3-5-sonnet-latest"

type messageCreator interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicBackend talks to the Anthropic Messages API.
type AnthropicBackend struct {
	messages messageCreator
}

// NewAnthropicBackend creates a client. An empty apiKey falls back to
// ANTHROPIC_API_KEY.
func NewAnthropicBackend(apiKey string) *AnthropicBackend {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicBackend{messages: &client.Messages}
}

// Generate implements Backend.
func (a *AnthropicBackend) Generate(ctx context.Context, call Call) (Reply, error) {
	// The Messages API requires the first message to come from the user.
	turns := call.Messages
	for len(turns) > 0 && turns[0].Role == domain.RoleAssistant {
		turns = turns[1:]
	}

	msgs := make([]anthropic.MessageParam, 0, len(turns))
	for _, m := range turns {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == domain.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(call.Model),
		MaxTokens:   int64(call.MaxTokens),
		Messages:    msgs,
		Temperature: anthropic.Float(float64(call.Temperature)),
		TopP:        anthropic.Float(float64(call.TopP)),
	}
	if call.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: call.System}}
	}

	resp, err := a.messages.New(ctx, params)
	if err != nil {
		return Reply{}, fmt.Errorf("AnthropicBackend.Generate: messages.new: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type == "text" {
			return Reply{Role: domain.RoleAssistant, Text: block.Text}, nil
		}
	}
	return Reply{}, ErrEmptyReply
}
