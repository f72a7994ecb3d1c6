package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/dvloznov/docledger/internal/domain"
)

// DefaultGeminiModel is used when no model name is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// contentGenerator is the slice of the genai client the backend needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiBackend talks to Gemini through google.golang.org/genai.
type GeminiBackend struct {
	models contentGenerator
}

// NewGeminiBackend creates a genai client. An empty apiKey leaves credential
// discovery to the SDK (GOOGLE_API_KEY, Vertex AI environment).
func NewGeminiBackend(ctx context.Context, apiKey string) (*GeminiBackend, error) {
	cfg := &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
		cfg.Backend = genai.BackendGeminiAPI
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiBackend: create genai client: %w", err)
	}
	return &GeminiBackend{models: client.Models}, nil
}

// Generate implements Backend.
func (g *GeminiBackend) Generate(ctx context.Context, call Call) (Reply, error) {
	contents := make([]*genai.Content, 0, len(call.Messages))
	for _, m := range call.Messages {
		contents = append(contents, &genai.Content{
			Role:  geminiRole(m.Role),
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(call.Temperature),
		TopP:            genai.Ptr(call.TopP),
		MaxOutputTokens: int32(call.MaxTokens),
	}
	if call.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: call.System}}}
	}

	resp, err := g.models.GenerateContent(ctx, call.Model, contents, config)
	if err != nil {
		return Reply{}, fmt.Errorf("GeminiBackend.Generate: generate content: %w", err)
	}
	if resp == nil {
		return Reply{}, ErrEmptyReply
	}

	return Reply{Role: domain.RoleAssistant, Text: resp.Text()}, nil
}

func geminiRole(r domain.Role) string {
	if r == domain.RoleAssistant {
		return "model"
	}
	return "user"
}
