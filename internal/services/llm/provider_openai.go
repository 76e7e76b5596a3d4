package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type openAIProvider struct {
	cfg    Config
	client *openai.Client
}

func newOpenAIProvider(cfg Config, httpClient *http.Client) *openAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = httpClient
	return &openAIProvider{cfg: cfg, client: openai.NewClientWithConfig(clientCfg)}
}

func (p *openAIProvider) Name() string { return "openai" }

// Complete leaves temperature unset: reasoning models reject anything but
// the default.
func (p *openAIProvider) Complete(ctx context.Context, prompt Prompt) (string, error) {
	if p.cfg.APIKey == "" {
		return "", fmt.Errorf("openai: api key required")
	}
	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: prompt.Text}}
	for _, img := range prompt.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    img.DataURL(),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	req := openai.ChatCompletionRequest{
		Model: p.cfg.Model,
		Messages: []openai.ChatCompletionMessage{{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		}},
		MaxCompletionTokens: p.cfg.MaxOutputTokens,
	}
	if prompt.Schema != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai complete: empty choices")
	}
	choice := resp.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" {
		return "", &emptyContentError{
			Op:           "openai complete",
			FinishReason: string(choice.FinishReason),
			Refusal:      choice.Message.Refusal,
			Snippet:      "<empty>",
		}
	}
	return content, nil
}
