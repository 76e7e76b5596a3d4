package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/manumartinm/ps3-worker/internal/services"
)

var variantsTestSchema = NewSchema("variants_test", "data", true, map[string]any{
	"type": "object",
	"properties": map[string]any{
		"data": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"gene":    map[string]any{"type": "string"},
					"variant": map[string]any{"type": "string"},
				},
				"required": []any{"gene", "variant"},
			},
		},
	},
	"required": []any{"data"},
})

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("fake-jpeg"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return path
}

func openRouterReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	payload := map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"content": content}},
		},
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func TestClientHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Fatalf("unexpected authorization header %q", got)
		}
		openRouterReply(t, w, `{"ok":true}`)
	}))
	defer server.Close()

	client, err := NewClient(Config{Provider: "openrouter", APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	}))
	defer server.Close()

	client, err := NewClient(Config{Provider: "openrouter", APIKey: "bad", BaseURL: server.URL, Model: "demo"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	err = client.HealthCheck(context.Background())
	if err == nil {
		t.Fatal("expected health check to fail")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	var statusErr *httpStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected http 401 status error, got %v", err)
	}
}

func TestNewClientRejectsUnknownProvider(t *testing.T) {
	_, err := NewClient(Config{Provider: "carrier-pigeon"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSendRequiresPrompt(t *testing.T) {
	client, err := NewClient(Config{Provider: "ollama"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Send(context.Background(), Request{Prompt: "   "})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestOpenRouterSendsImagesAndNormalizesBareObject(t *testing.T) {
	dir := t.TempDir()
	page1 := writeImage(t, dir, "page-1.jpg")
	page2 := writeImage(t, dir, "page-2.png")
	missing := filepath.Join(dir, "page-3.jpg")

	var captured chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Title") != "ps3-worker" {
			t.Fatalf("expected X-Title header, got %q", r.Header.Get("X-Title"))
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		openRouterReply(t, w, "Here you go:\n```json\n{\"gene\":\"BRCA1\",\"variant\":\"c.68_69del\"}\n```")
	}))
	defer server.Close()

	client, err := NewClient(Config{Provider: "openrouter", APIKey: "k", BaseURL: server.URL, Model: "m", Title: "ps3-worker"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	resp, err := client.Send(context.Background(), Request{
		Prompt: "list variants",
		Images: []string{page1, page2, missing},
		Schema: variantsTestSchema,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(captured.Messages) != 1 {
		t.Fatalf("expected one message, got %d", len(captured.Messages))
	}
	parts := captured.Messages[0].Content
	if len(parts) != 3 {
		t.Fatalf("expected text + 2 image parts, got %d", len(parts))
	}
	if !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/jpeg;base64,") {
		t.Fatalf("unexpected jpeg data url %q", parts[1].ImageURL.URL)
	}
	if !strings.HasPrefix(parts[2].ImageURL.URL, "data:image/png;base64,") {
		t.Fatalf("unexpected png data url %q", parts[2].ImageURL.URL)
	}
	if captured.ResponseFormat["type"] != jsonResponseType {
		t.Fatalf("expected json response format, got %v", captured.ResponseFormat)
	}

	var decoded struct {
		Data []struct {
			Gene    string `json:"gene"`
			Variant string `json:"variant"`
		} `json:"data"`
	}
	if err := resp.Decode(&decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.Data) != 1 || decoded.Data[0].Gene != "BRCA1" {
		t.Fatalf("unexpected decoded payload %+v", decoded)
	}
}

func TestSendSchemaMismatchIsValidationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		openRouterReply(t, w, `{"data":[{"gene":"BRCA1"}]}`)
	}))
	defer server.Close()

	client, err := NewClient(Config{Provider: "openrouter", APIKey: "k", BaseURL: server.URL, Model: "m"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	resp, err := client.Send(context.Background(), Request{Prompt: "p", Schema: variantsTestSchema})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if resp.Text == "" {
		t.Fatal("expected raw text to be kept on decode failure")
	}
}

func TestOpenRouterEmptyContentHasSnippet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"finish_reason":"length","message":{"content":""}}]}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{Provider: "openrouter", APIKey: "k", BaseURL: server.URL, Model: "m"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.Send(context.Background(), Request{Prompt: "p"})
	if err == nil {
		t.Fatal("expected send to fail")
	}
	var empty *emptyContentError
	if !errors.As(err, &empty) {
		t.Fatalf("expected empty content error, got %v", err)
	}
	if empty.FinishReason != "length" || !strings.Contains(err.Error(), "response_snippet=") {
		t.Fatalf("unexpected empty content error %v", err)
	}
}

func TestGeminiProvider(t *testing.T) {
	dir := t.TempDir()
	page := writeImage(t, dir, "page-1.jpg")

	var captured geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-test:generateContent" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "g-key" {
			t.Fatalf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"data\":[{\"gene\":\"TP53\","},{"text":"\"variant\":\"p.R175H\"}]}"}]}}]}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{Provider: "gemini", APIKey: "g-key", BaseURL: server.URL, Model: "gemini-test", Temperature: 0.4, MaxOutputTokens: 10000})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	resp, err := client.Send(context.Background(), Request{Prompt: "p", Images: []string{page}, Schema: variantsTestSchema})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if captured.GenerationConfig.ResponseMimeType != "application/json" {
		t.Fatalf("expected json mime type, got %q", captured.GenerationConfig.ResponseMimeType)
	}
	if captured.GenerationConfig.MaxOutputTokens != 10000 {
		t.Fatalf("expected max tokens 10000, got %d", captured.GenerationConfig.MaxOutputTokens)
	}
	parts := captured.Contents[0].Parts
	if len(parts) != 2 || parts[1].InlineData == nil || parts[1].InlineData.MimeType != "image/jpeg" {
		t.Fatalf("unexpected parts %+v", parts)
	}
	if got := compactJSON(resp.Data); got != `{"data":[{"gene":"TP53","variant":"p.R175H"}]}` {
		t.Fatalf("unexpected data %s", got)
	}
}

func TestOllamaProviderSendsSchemaFormat(t *testing.T) {
	dir := t.TempDir()
	page := writeImage(t, dir, "page-1.jpg")

	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"[{\"gene\":\"MLH1\",\"variant\":\"c.1A>G\"}]"},"done":true}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{Provider: "ollama", BaseURL: server.URL, Model: "gemma3:12b"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	resp, err := client.Send(context.Background(), Request{Prompt: "p", Images: []string{page}, Schema: variantsTestSchema})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if captured["stream"] != false {
		t.Fatalf("expected stream=false, got %v", captured["stream"])
	}
	if _, ok := captured["format"].(map[string]any); !ok {
		t.Fatalf("expected schema format object, got %T", captured["format"])
	}
	messages := captured["messages"].([]any)
	images := messages[0].(map[string]any)["images"].([]any)
	if len(images) != 1 {
		t.Fatalf("expected one image, got %d", len(images))
	}
	if got := compactJSON(resp.Data); got != `{"data":[{"gene":"MLH1","variant":"c.1A>G"}]}` {
		t.Fatalf("unexpected data %s", got)
	}
}

func TestOpenAIProvider(t *testing.T) {
	dir := t.TempDir()
	page := writeImage(t, dir, "page-1.jpg")

	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Fatalf("unexpected authorization %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmpl-1","object":"chat.completion","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"data\":{\"gene\":\"BRCA2\",\"variant\":\"c.7617+1G>A\"}}"}}]}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{Provider: "openai", APIKey: "sk-test", BaseURL: server.URL, Model: "gpt-test"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	resp, err := client.Send(context.Background(), Request{Prompt: "p", Images: []string{page}, Schema: variantsTestSchema})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	format, _ := captured["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %v", captured["response_format"])
	}
	if _, ok := captured["temperature"]; ok {
		t.Fatalf("temperature must not be sent, got %v", captured["temperature"])
	}
	if got := compactJSON(resp.Data); got != `{"data":[{"gene":"BRCA2","variant":"c.7617+1G>A"}]}` {
		t.Fatalf("unexpected data %s", got)
	}
}
