package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/manumartinm/ps3-worker/internal/logging"
	"github.com/manumartinm/ps3-worker/internal/services"
)

const defaultHTTPTimeout = 300 * time.Second

// Config captures the runtime settings required to talk to a provider.
type Config struct {
	Provider        string
	APIKey          string
	BaseURL         string
	Model           string
	Referer         string
	Title           string
	TimeoutSeconds  int
	Temperature     float64
	MaxOutputTokens int
}

// Image is one page image attached to a prompt.
type Image struct {
	Path     string
	MIMEType string
	Data     []byte
}

// DataURL renders the image as an inline data URL.
func (i Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + i.Base64()
}

// Base64 returns the standard base64 encoding of the image bytes.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// Prompt is the provider-facing request.
type Prompt struct {
	Text   string
	Images []Image
	Schema *Schema
}

// Provider issues a single completion against one LLM back-end.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// Request describes one structured extraction call.
type Request struct {
	Prompt string
	Images []string
	Schema *Schema
}

// Response carries the raw reply and, when a schema was supplied, the
// normalized, validated JSON document.
type Response struct {
	Text string
	Data json.RawMessage
}

// Decode unmarshals the validated document into target.
func (r Response) Decode(target any) error {
	if len(r.Data) == 0 {
		return errors.New("llm response: no structured data")
	}
	return json.Unmarshal(r.Data, target)
}

// Client sends prompts through the configured provider and validates replies.
type Client struct {
	provider   Provider
	logger     *slog.Logger
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client used by providers.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithProvider bypasses provider construction from Config.
func WithProvider(provider Provider) Option {
	return func(c *Client) {
		if provider != nil {
			c.provider = provider
		}
	}
}

// NewClient constructs a client for the provider named in cfg.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		logger:     logging.NewNop(),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	client.logger = logging.NewComponentLogger(client.logger, "llm")
	if client.provider != nil {
		return client, nil
	}

	cfg = trimConfig(cfg)
	switch cfg.Provider {
	case "gemini":
		client.provider = newGeminiProvider(cfg, client.httpClient)
	case "ollama":
		client.provider = newOllamaProvider(cfg, client.httpClient)
	case "openai":
		client.provider = newOpenAIProvider(cfg, client.httpClient)
	case "openrouter":
		client.provider = newOpenRouterProvider(cfg, client.httpClient)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "llm", "new client", fmt.Sprintf("unknown provider %q", cfg.Provider), nil)
	}
	return client, nil
}

func trimConfig(cfg Config) Config {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.Referer = strings.TrimSpace(cfg.Referer)
	cfg.Title = strings.TrimSpace(cfg.Title)
	return cfg
}

// ProviderName reports the active provider.
func (c *Client) ProviderName() string {
	return c.provider.Name()
}

// Send issues one request. Missing image paths are skipped. Without a schema
// the raw reply is returned unvalidated; with one, the reply must decode into
// a schema-conformant document or the call fails.
func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Response{}, services.Wrap(services.ErrValidation, "llm", "send", "prompt required", nil)
	}
	images, err := c.loadImages(req.Images)
	if err != nil {
		return Response{}, err
	}

	started := time.Now()
	text, err := c.provider.Complete(ctx, Prompt{Text: prompt, Images: images, Schema: req.Schema})
	if err != nil {
		return Response{}, services.Wrap(services.ErrTransient, "llm", c.provider.Name(), "provider call failed", err)
	}
	logging.WithContext(ctx, c.logger).Debug("llm reply received",
		logging.String("provider", c.provider.Name()),
		logging.Int("images", len(images)),
		logging.Int("reply_chars", len(text)),
		logging.Duration("latency", time.Since(started)),
	)

	if req.Schema == nil {
		return Response{Text: text}, nil
	}
	data, err := DecodeStructured(text, req.Schema)
	if err != nil {
		return Response{Text: text}, services.Wrap(services.ErrValidation, "llm", c.provider.Name(), "structured decode failed", err)
	}
	return Response{Text: text, Data: data}, nil
}

// HealthCheck issues a minimal structured request to verify credentials and
// model availability.
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.Send(ctx, Request{
		Prompt: "You must respond with JSON only. Respond with {\"ok\":true}",
		Schema: healthSchema,
	})
	if err != nil {
		return err
	}
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := resp.Decode(&parsed); err != nil {
		return fmt.Errorf("llm health: parse payload: %w", err)
	}
	if !parsed.OK {
		return errors.New("llm health: unexpected response")
	}
	return nil
}

var healthSchema = NewSchema("health", "", false, map[string]any{
	"type":       "object",
	"properties": map[string]any{"ok": map[string]any{"type": "boolean"}},
	"required":   []any{"ok"},
})

func (c *Client) loadImages(paths []string) ([]Image, error) {
	images := make([]Image, 0, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				c.logger.Debug("skipping missing image", logging.String("path", path))
				continue
			}
			return nil, services.Wrap(services.ErrValidation, "llm", "load image", path, err)
		}
		images = append(images, Image{Path: path, MIMEType: mimeTypeFor(path), Data: data})
	}
	return images, nil
}

func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
