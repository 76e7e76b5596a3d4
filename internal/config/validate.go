package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateBroker(); err != nil {
		return err
	}
	if err := c.validateTaskStore(); err != nil {
		return err
	}
	if err := c.validateArtifacts(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateProgress(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateBroker() error {
	if strings.TrimSpace(c.Broker.URL) == "" && strings.TrimSpace(c.Broker.Host) == "" {
		return errors.New("broker.url or broker.host must be set")
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port must be between 1 and 65535, got %d", c.Broker.Port)
	}
	if c.Broker.ReconnectDelaySeconds <= 0 {
		return errors.New("broker.reconnect_delay_seconds must be positive")
	}
	return nil
}

func (c *Config) validateTaskStore() error {
	switch c.TaskStore.Backend {
	case BackendMongo:
		if strings.TrimSpace(c.TaskStore.MongoURI) == "" {
			return errors.New("task_store.mongo_uri is required when backend is mongo. Set MONGO_URI or edit the config file")
		}
		if strings.TrimSpace(c.TaskStore.Database) == "" {
			return errors.New("task_store.database must be set")
		}
		if strings.TrimSpace(c.TaskStore.Collection) == "" {
			return errors.New("task_store.collection must be set")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.TaskStore.SQLitePath) == "" {
			return errors.New("task_store.sqlite_path must be set when backend is sqlite")
		}
	default:
		return fmt.Errorf("task_store.backend: unsupported value %q (want %s or %s)", c.TaskStore.Backend, BackendMongo, BackendSQLite)
	}
	if c.TaskStore.TimeoutSeconds <= 0 {
		return errors.New("task_store.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateArtifacts() error {
	if strings.TrimSpace(c.Artifacts.Endpoint) == "" {
		return errors.New("artifacts.endpoint is required. Set MINIO_ENDPOINT or edit the config file")
	}
	if strings.TrimSpace(c.Artifacts.PDFBucket) == "" || strings.TrimSpace(c.Artifacts.TableBucket) == "" {
		return errors.New("artifacts.pdf_bucket and artifacts.table_bucket must be set")
	}
	switch c.Artifacts.TableFormat {
	case FormatParquet, FormatXLSX:
	default:
		return fmt.Errorf("artifacts.table_format: unsupported value %q", c.Artifacts.TableFormat)
	}
	return nil
}

func (c *Config) validateLLM() error {
	if _, ok := defaultModels[c.LLM.Provider]; !ok {
		return fmt.Errorf("llm.provider: unsupported value %q", c.LLM.Provider)
	}
	if c.LLM.Provider != ProviderOllama && strings.TrimSpace(c.LLM.APIKey) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("llm.api_key is required for provider %s. Set the provider API key env var or edit %s (create with 'ps3worker config init')", c.LLM.Provider, defaultPath)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return errors.New("llm.temperature must be between 0 and 2")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.MaxVariants <= 0 {
		return errors.New("pipeline.max_variants must be positive")
	}
	if c.Pipeline.DiscoveryAttempts < 1 || c.Pipeline.ExtractionAttempts < 1 {
		return errors.New("pipeline.discovery_attempts and pipeline.extraction_attempts must be at least 1")
	}
	if c.Pipeline.RetryDelaySeconds < 0 {
		return errors.New("pipeline.retry_delay_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateProgress() error {
	if c.Progress.HistoryLimit <= 0 {
		return errors.New("progress.history_limit must be positive")
	}
	if c.Progress.MaxTasks <= 0 {
		return errors.New("progress.max_tasks must be positive")
	}
	if c.Progress.SubscriberBuffer <= 0 {
		return errors.New("progress.subscriber_buffer must be positive")
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if !c.Metrics.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Metrics.URL) == "" {
		return errors.New("metrics.url must be set when metrics.enabled is true")
	}
	if strings.TrimSpace(c.Metrics.Token) == "" {
		return errors.New("metrics.token is required when metrics.enabled is true (or INFLUXDB2_TOKEN)")
	}
	if strings.TrimSpace(c.Metrics.Org) == "" || strings.TrimSpace(c.Metrics.Bucket) == "" {
		return errors.New("metrics.org and metrics.bucket must be set when metrics.enabled is true")
	}
	return nil
}
