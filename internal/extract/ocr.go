package extract

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const ocrInstruction = "Transcribe all text visible in this image exactly as written, preserving line breaks and table rows. " +
	"Return only the transcribed text. If the image contains no text, return nothing."

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiOCR reads image text with a Gemini vision model.
type GeminiOCR struct {
	models contentGenerator
	model  string
}

// NewGeminiOCR creates an OCR engine backed by its own genai client.
func NewGeminiOCR(ctx context.Context, apiKey, model string) (*GeminiOCR, error) {
	cfg := &genai.ClientConfig{HTTPOptions: genai.HTTPOptions{APIVersion: "v1"}}
	if apiKey != "" {
		cfg.APIKey = apiKey
		cfg.Backend = genai.BackendGeminiAPI
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("NewGeminiOCR: create genai client: %w", err)
	}
	return &GeminiOCR{models: client.Models, model: model}, nil
}

// Recognize implements OCREngine.
func (o *GeminiOCR) Recognize(ctx context.Context, image []byte, mimeType string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(ocrInstruction),
			genai.NewPartFromBytes(image, mimeType),
		}, genai.RoleUser),
	}

	resp, err := o.models.GenerateContent(ctx, o.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", fmt.Errorf("GeminiOCR.Recognize: generate content: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Text()), nil
}
