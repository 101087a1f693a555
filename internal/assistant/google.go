package assistant

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GoogleProvider backs the assistant with the Gemini API. Gemini is natively
// multimodal, so audio, images and documents ride inline with the prompt.
type GoogleProvider struct {
	client *genai.Client
	model  string
}

// NewGoogleProvider creates a Gemini-backed provider.
func NewGoogleProvider(ctx context.Context, apiKey, model string) (*GoogleProvider, error) {
	if apiKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &GoogleProvider{client: client, model: model}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

// Complete runs a single non-streaming generation.
func (p *GoogleProvider) Complete(ctx context.Context, req Request) (string, error) {
	parts := []*genai.Part{{Text: req.Prompt}}
	if len(req.MediaData) > 0 {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: req.MediaMIME,
				Data:     req.MediaData,
			},
		})
	}
	contents := []*genai.Content{{Role: genai.RoleUser, Parts: parts}}

	config := &genai.GenerateContentConfig{
		// Low temperature keeps the report JSON well-formed.
		Temperature:     genai.Ptr(float32(0.2)),
		MaxOutputTokens: 2000,
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("google: generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("google: empty response")
	}
	return text, nil
}
