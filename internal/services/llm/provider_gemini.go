package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type geminiProvider struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
}

func newGeminiProvider(cfg Config, httpClient *http.Client) *geminiProvider {
	return &geminiProvider{cfg: cfg, baseURL: baseURLOr(cfg, defaultGeminiBaseURL), httpClient: httpClient}
}

func (p *geminiProvider) Name() string { return "gemini" }

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (p *geminiProvider) Complete(ctx context.Context, prompt Prompt) (string, error) {
	if p.cfg.APIKey == "" {
		return "", fmt.Errorf("gemini: api key required")
	}
	parts := []geminiPart{{Text: prompt.Text}}
	for _, img := range prompt.Images {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{MimeType: img.MIMEType, Data: img.Base64()}})
	}
	payload := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     p.cfg.Temperature,
			MaxOutputTokens: p.cfg.MaxOutputTokens,
		},
	}
	if prompt.Schema != nil {
		payload.GenerationConfig.ResponseMimeType = "application/json"
	}
	endpoint, err := url.JoinPath(p.baseURL, "models", p.cfg.Model+":generateContent")
	if err != nil {
		return "", fmt.Errorf("gemini request: build url: %w", err)
	}

	var reply geminiResponse
	body, err := postJSON(ctx, p.httpClient, p.Name(), endpoint, map[string]string{"x-goog-api-key": p.cfg.APIKey}, payload, &reply)
	if err != nil {
		return "", err
	}
	var text strings.Builder
	var finishReason string
	for _, candidate := range reply.Candidates {
		for _, part := range candidate.Content.Parts {
			text.WriteString(part.Text)
		}
		if text.Len() > 0 {
			break
		}
		finishReason = firstNonEmpty(finishReason, candidate.FinishReason)
	}
	content := strings.TrimSpace(text.String())
	if content == "" {
		refusal := ""
		if reply.PromptFeedback != nil {
			refusal = reply.PromptFeedback.BlockReason
		}
		return "", &emptyContentError{
			Op:           "gemini complete",
			FinishReason: finishReason,
			Refusal:      refusal,
			Snippet:      summarizePayloadSnippet(string(body)),
		}
	}
	return content, nil
}
