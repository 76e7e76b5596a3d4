package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// ollamaProvider targets a local Ollama daemon. No API key is needed.
type ollamaProvider struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
}

func newOllamaProvider(cfg Config, httpClient *http.Client) *ollamaProvider {
	return &ollamaProvider{cfg: cfg, baseURL: baseURLOr(cfg, defaultOllamaBaseURL), httpClient: httpClient}
}

func (p *ollamaProvider) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   any             `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message    ollamaMessage `json:"message"`
	DoneReason string        `json:"done_reason"`
	Error      string        `json:"error"`
}

func (p *ollamaProvider) Complete(ctx context.Context, prompt Prompt) (string, error) {
	images := make([]string, 0, len(prompt.Images))
	for _, img := range prompt.Images {
		images = append(images, img.Base64())
	}
	payload := ollamaChatRequest{
		Model:    p.cfg.Model,
		Messages: []ollamaMessage{{Role: "user", Content: prompt.Text, Images: images}},
		Options:  map[string]any{"temperature": p.cfg.Temperature},
	}
	if p.cfg.MaxOutputTokens > 0 {
		payload.Options["num_predict"] = p.cfg.MaxOutputTokens
	}
	if prompt.Schema != nil && len(prompt.Schema.Definition) > 0 {
		payload.Format = prompt.Schema.Definition
	}
	endpoint, err := url.JoinPath(p.baseURL, "api", "chat")
	if err != nil {
		return "", fmt.Errorf("ollama request: build url: %w", err)
	}

	var reply ollamaChatResponse
	body, err := postJSON(ctx, p.httpClient, p.Name(), endpoint, nil, payload, &reply)
	if err != nil {
		return "", err
	}
	if reply.Error != "" {
		return "", fmt.Errorf("ollama request: api error: %s", strings.TrimSpace(reply.Error))
	}
	content := strings.TrimSpace(reply.Message.Content)
	if content == "" {
		return "", &emptyContentError{
			Op:           "ollama complete",
			FinishReason: reply.DoneReason,
			Snippet:      summarizePayloadSnippet(string(body)),
		}
	}
	return content, nil
}
