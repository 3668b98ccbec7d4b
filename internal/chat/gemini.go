package chat

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiGenerator produces completions through the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator dials the Gemini API.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("chat: gemini api key required")
	}
	if model == "" {
		return nil, fmt.Errorf("chat: gemini model required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("chat: gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

// Generate runs one prompt through the model and returns the raw text.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	response, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("chat: generate content: %w", err)
	}
	text := response.Text()
	if text == "" {
		return "", fmt.Errorf("chat: empty model response")
	}
	return text, nil
}
