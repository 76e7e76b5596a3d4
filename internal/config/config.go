package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains working and state directories.
type Paths struct {
	WorkDir  string `toml:"work_dir"`
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	EnvFile  string `toml:"env_file"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Broker contains the AMQP connection and queue settings.
type Broker struct {
	URL                   string `toml:"url"`
	Host                  string `toml:"host"`
	Port                  int    `toml:"port"`
	Username              string `toml:"username"`
	Password              string `toml:"password"`
	VirtualHost           string `toml:"virtual_host"`
	Queue                 string `toml:"queue"`
	ReconnectDelaySeconds int    `toml:"reconnect_delay_seconds"`
}

// TaskStore selects and configures the task document store.
type TaskStore struct {
	Backend        string `toml:"backend"`
	MongoURI       string `toml:"mongo_uri"`
	Database       string `toml:"database"`
	Collection     string `toml:"collection"`
	SQLitePath     string `toml:"sqlite_path"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Artifacts configures the S3-compatible object store holding PDFs and tables.
type Artifacts struct {
	Endpoint    string `toml:"endpoint"`
	Region      string `toml:"region"`
	AccessKey   string `toml:"access_key"`
	SecretKey   string `toml:"secret_key"`
	Secure      bool   `toml:"secure"`
	PDFBucket   string `toml:"pdf_bucket"`
	TableBucket string `toml:"table_bucket"`
	TableFormat string `toml:"table_format"`
}

// LLM contains the extraction provider settings.
type LLM struct {
	Provider        string  `toml:"provider"`
	Model           string  `toml:"model"`
	APIKey          string  `toml:"api_key"`
	BaseURL         string  `toml:"base_url"`
	Referer         string  `toml:"referer"`
	Title           string  `toml:"title"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
	Temperature     float64 `toml:"temperature"`
	MaxOutputTokens int     `toml:"max_output_tokens"`
}

// Pipeline contains extraction pipeline policy.
type Pipeline struct {
	MaxVariants        int    `toml:"max_variants"`
	DiscoveryAttempts  int    `toml:"discovery_attempts"`
	ExtractionAttempts int    `toml:"extraction_attempts"`
	RetryDelaySeconds  int    `toml:"retry_delay_seconds"`
	RasterizerBinary   string `toml:"rasterizer_binary"`
	RasterDPI          int    `toml:"raster_dpi"`
	Grayscale          bool   `toml:"grayscale"`
}

// Progress bounds the in-memory progress broadcaster.
type Progress struct {
	HistoryLimit     int `toml:"history_limit"`
	MaxTasks         int `toml:"max_tasks"`
	SubscriberBuffer int `toml:"subscriber_buffer"`
}

// API configures the progress HTTP surface.
type API struct {
	Enabled    bool   `toml:"enabled"`
	Bind       string `toml:"bind"`
	JWTSecret  string `toml:"jwt_secret"`
	CORSOrigin string `toml:"cors_origin"`
}

// Metrics configures the optional InfluxDB sink.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	Token   string `toml:"token"`
	Org     string `toml:"org"`
	Bucket  string `toml:"bucket"`
}

// Config encapsulates all configuration values for the worker.
//
// Configuration sections by subsystem:
//   - Paths: work, state, and log directories
//   - Logging: log format and level
//   - Broker: AMQP queue the worker consumes
//   - TaskStore: task status documents (mongo or sqlite)
//   - Artifacts: MinIO/S3 buckets for PDFs and result tables
//   - LLM: structured extraction provider
//   - Pipeline: variant bounds, retry policy, rasterizer
//   - Progress: broadcaster history bounds
//   - API: progress HTTP/SSE/websocket surface
//   - Metrics: InfluxDB task metrics
type Config struct {
	Paths     Paths     `toml:"paths"`
	Logging   Logging   `toml:"logging"`
	Broker    Broker    `toml:"broker"`
	TaskStore TaskStore `toml:"task_store"`
	Artifacts Artifacts `toml:"artifacts"`
	LLM       LLM       `toml:"llm"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Progress  Progress  `toml:"progress"`
	API       API       `toml:"api"`
	Metrics   Metrics   `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and environment overrides applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadEnvFile(cfg.Paths.EnvFile); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadEnvFile populates the process environment from a dotenv file. Variables
// already present in the environment are left untouched.
func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		_ = godotenv.Load()
		return nil
	}
	expanded, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("paths.env_file: %w", err)
	}
	if err := godotenv.Load(expanded); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", expanded, err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("ps3-worker.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "ps3-worker.lock")
}

// RetryDelay returns the fixed delay between extraction attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Pipeline.RetryDelaySeconds) * time.Second
}

// StoreTimeout returns the per-operation task store timeout.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.TaskStore.TimeoutSeconds) * time.Second
}

// ReconnectDelay returns the wait between broker reconnect attempts.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Broker.ReconnectDelaySeconds) * time.Second
}

// BrokerURL returns the AMQP URL, composing one from host parts when no
// explicit URL is configured.
func (c *Config) BrokerURL() string {
	if url := strings.TrimSpace(c.Broker.URL); url != "" {
		return url
	}
	vhost := strings.TrimPrefix(c.Broker.VirtualHost, "/")
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", c.Broker.Username, c.Broker.Password, c.Broker.Host, c.Broker.Port, vhost)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
