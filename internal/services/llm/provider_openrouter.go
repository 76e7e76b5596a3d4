package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	jsonResponseType          = "json_object"
	defaultOpenRouterEndpoint = "https://openrouter.ai/api/v1/chat/completions"
)

// openRouterProvider speaks the OpenAI-compatible chat completions protocol
// over plain HTTP so any compatible gateway can be targeted via base_url.
type openRouterProvider struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
}

func newOpenRouterProvider(cfg Config, httpClient *http.Client) *openRouterProvider {
	return &openRouterProvider{
		cfg:        cfg,
		endpoint:   baseURLOr(cfg, defaultOpenRouterEndpoint),
		httpClient: httpClient,
	}
}

func (p *openRouterProvider) Name() string { return "openrouter" }

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
		// Some gateways return the streaming schema (delta) even when
		// stream=false.
		Delta        chatCompletionMessage `json:"delta"`
		Text         string                `json:"text"`
		FinishReason string                `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatCompletionMessage struct {
	Content string `json:"content"`
	Refusal string `json:"refusal"`
}

func (p *openRouterProvider) Complete(ctx context.Context, prompt Prompt) (string, error) {
	if p.cfg.APIKey == "" {
		return "", fmt.Errorf("openrouter: api key required")
	}
	parts := []contentPart{{Type: "text", Text: prompt.Text}}
	for _, img := range prompt.Images {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: img.DataURL()}})
	}
	payload := chatCompletionRequest{
		Model:       p.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: parts}},
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxOutputTokens,
	}
	if prompt.Schema != nil {
		payload.ResponseFormat = map[string]string{"type": jsonResponseType}
	}
	headers := map[string]string{
		"Authorization": "Bearer " + p.cfg.APIKey,
		"HTTP-Referer":  p.cfg.Referer,
		"Referer":       p.cfg.Referer,
		"X-Title":       p.cfg.Title,
	}

	var completion chatCompletionResponse
	body, err := postJSON(ctx, p.httpClient, p.Name(), p.endpoint, headers, payload, &completion)
	if err != nil {
		return "", err
	}
	if completion.Error != nil {
		return "", fmt.Errorf("openrouter request: api error: %s", strings.TrimSpace(completion.Error.Message))
	}
	content, finishReason := extractCompletionPayload(completion)
	if content == "" {
		if len(completion.Choices) == 0 {
			return "", fmt.Errorf("openrouter complete: empty choices")
		}
		return "", &emptyContentError{
			Op:           "openrouter complete",
			FinishReason: finishReason,
			Refusal:      extractCompletionRefusal(completion),
			Snippet:      summarizePayloadSnippet(string(body)),
		}
	}
	return content, nil
}

func extractCompletionPayload(completion chatCompletionResponse) (string, string) {
	var finishReason string
	for _, choice := range completion.Choices {
		if finishReason == "" {
			finishReason = strings.TrimSpace(choice.FinishReason)
		}
		if content := firstNonEmpty(choice.Message.Content, choice.Delta.Content, choice.Text); content != "" {
			return content, finishReason
		}
	}
	return "", finishReason
}

func extractCompletionRefusal(completion chatCompletionResponse) string {
	for _, choice := range completion.Choices {
		if refusal := firstNonEmpty(choice.Message.Refusal, choice.Delta.Refusal); refusal != "" {
			return refusal
		}
	}
	return ""
}
