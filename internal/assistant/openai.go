package assistant

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider backs the assistant with the Chat Completions API. Images
// are attached as data URLs; other media kinds are flagged in the prompt
// since the endpoint cannot ingest them directly.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates an OpenAI-backed provider.
func NewOpenAIProvider(apiKey, model string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIProvider{client: openai.NewClient(apiKey), model: model}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Complete runs a single non-streaming chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.System},
	}

	switch {
	case len(req.MediaData) > 0 && strings.HasPrefix(req.MediaMIME, "image/"):
		dataURL := fmt.Sprintf("data:%s;base64,%s",
			req.MediaMIME, base64.StdEncoding.EncodeToString(req.MediaData))
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
				{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: openai.ImageURLDetailAuto},
				},
			},
		})
	case len(req.MediaData) > 0:
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			Content: req.Prompt + fmt.Sprintf(
				"\n\n(O cliente enviou um arquivo do tipo %s que não pôde ser anexado; peça os detalhes em texto.)", req.MediaMIME),
		})
	default:
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Prompt,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: 0.2,
		MaxTokens:   2000,
	})
	if err != nil {
		return "", fmt.Errorf("openai: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
