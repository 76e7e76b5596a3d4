package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeBroker(); err != nil {
		return err
	}
	if err := c.normalizeTaskStore(); err != nil {
		return err
	}
	if err := c.normalizeArtifacts(); err != nil {
		return err
	}
	c.normalizeLLM()
	c.normalizePipeline()
	c.normalizeAPI()
	c.normalizeMetrics()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeBroker() error {
	envString(&c.Broker.URL, "AMQP_URL")
	envString(&c.Broker.Host, "AMQP_HOST")
	envString(&c.Broker.Username, "AMQP_USERNAME")
	envString(&c.Broker.Password, "AMQP_PASSWORD")
	envString(&c.Broker.VirtualHost, "AMQP_VIRTUAL_HOST")
	envString(&c.Broker.Queue, "AMQP_QUEUE_PDF_PROCESSING")
	if err := envInt(&c.Broker.Port, "AMQP_PORT"); err != nil {
		return err
	}
	c.Broker.Queue = strings.TrimSpace(c.Broker.Queue)
	if c.Broker.Queue == "" {
		c.Broker.Queue = defaultBrokerQueue
	}
	if c.Broker.VirtualHost == "" {
		c.Broker.VirtualHost = defaultBrokerVirtualHost
	}
	return nil
}

func (c *Config) normalizeTaskStore() error {
	envString(&c.TaskStore.MongoURI, "MONGO_URI")
	envString(&c.TaskStore.Database, "MONGO_DB_NAME")
	envString(&c.TaskStore.Collection, "MONGO_COLLECTION_TASKS")
	c.TaskStore.Backend = strings.ToLower(strings.TrimSpace(c.TaskStore.Backend))
	if c.TaskStore.Backend == "" {
		c.TaskStore.Backend = defaultTaskStoreBackend
	}
	if strings.TrimSpace(c.TaskStore.SQLitePath) == "" {
		c.TaskStore.SQLitePath = filepath.Join(c.Paths.StateDir, defaultSQLiteName)
	}
	var err error
	if c.TaskStore.SQLitePath, err = expandPath(c.TaskStore.SQLitePath); err != nil {
		return fmt.Errorf("task_store.sqlite_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeArtifacts() error {
	envString(&c.Artifacts.Endpoint, "MINIO_ENDPOINT")
	envString(&c.Artifacts.AccessKey, "MINIO_ACCESS_KEY")
	envString(&c.Artifacts.SecretKey, "MINIO_SECRET_KEY")
	envString(&c.Artifacts.PDFBucket, "MINIO_BUCKET_PDFS")
	envString(&c.Artifacts.TableBucket, "MINIO_BUCKET_PARQUETS")
	if err := envBool(&c.Artifacts.Secure, "MINIO_SECURE"); err != nil {
		return err
	}
	c.Artifacts.TableFormat = strings.ToLower(strings.TrimSpace(c.Artifacts.TableFormat))
	if c.Artifacts.TableFormat == "" {
		c.Artifacts.TableFormat = defaultTableFormat
	}
	if strings.TrimSpace(c.Artifacts.Region) == "" {
		c.Artifacts.Region = defaultArtifactsRegion
	}
	return nil
}

func (c *Config) normalizeLLM() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = defaultLLMProvider
	}
	switch c.LLM.Provider {
	case ProviderGemini:
		envString(&c.LLM.APIKey, "PS3_LLM_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY")
	case ProviderOpenAI:
		envString(&c.LLM.APIKey, "PS3_LLM_API_KEY", "OPENAI_API_KEY")
	case ProviderOpenRouter:
		envString(&c.LLM.APIKey, "PS3_LLM_API_KEY", "OPENROUTER_API_KEY")
	case ProviderOllama:
		envString(&c.LLM.BaseURL, "OLLAMA_HOST")
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultModels[c.LLM.Provider]
	}
	c.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(c.LLM.BaseURL), "/")
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultBaseURLs[c.LLM.Provider]
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if c.LLM.MaxOutputTokens <= 0 {
		c.LLM.MaxOutputTokens = defaultLLMMaxOutputTokens
	}
}

func (c *Config) normalizePipeline() {
	c.Pipeline.RasterizerBinary = strings.TrimSpace(c.Pipeline.RasterizerBinary)
	if c.Pipeline.RasterizerBinary == "" {
		c.Pipeline.RasterizerBinary = defaultRasterizerBinary
	}
	if c.Pipeline.RasterDPI <= 0 {
		c.Pipeline.RasterDPI = defaultRasterDPI
	}
}

func (c *Config) normalizeAPI() {
	envString(&c.API.JWTSecret, "PS3_API_JWT_SECRET", "JWT_SECRET")
	envString(&c.API.CORSOrigin, "PS3_BACKEND_CORS_ORIGIN")
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
}

func (c *Config) normalizeMetrics() {
	envString(&c.Metrics.URL, "INFLUXDB2_URL")
	envString(&c.Metrics.Token, "INFLUXDB2_TOKEN")
	envString(&c.Metrics.Org, "INFLUXDB2_ORG")
	envString(&c.Metrics.Bucket, "INFLUXDB2_BUCKET")
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text":
		c.Logging.Format = "console"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}

// envString overwrites dst with the first non-empty environment variable.
func envString(dst *string, keys ...string) {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			*dst = strings.TrimSpace(value)
			return
		}
	}
}

func envInt(dst *int, key string) error {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, value)
	}
	*dst = parsed
	return nil
}

func envBool(dst *bool, key string) error {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(value)))
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", key, value)
	}
	*dst = parsed
	return nil
}
