package config

const (
	defaultConfigPath              = "~/.config/ps3-worker/config.toml"
	defaultWorkDir                 = "~/.local/share/ps3-worker/work"
	defaultStateDir                = "~/.local/share/ps3-worker"
	defaultLogDir                  = "~/.local/share/ps3-worker/logs"
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultBrokerHost              = "localhost"
	defaultBrokerPort              = 5672
	defaultBrokerUsername          = "guest"
	defaultBrokerPassword          = "guest"
	defaultBrokerVirtualHost       = "/"
	defaultBrokerQueue             = "pdf_processing"
	defaultBrokerReconnectDelay    = 5
	defaultTaskStoreBackend        = "mongo"
	defaultMongoURI                = "mongodb://localhost:27017"
	defaultMongoDatabase           = "ps3_webapp"
	defaultMongoCollection         = "tasks"
	defaultSQLiteName              = "tasks.db"
	defaultTaskStoreTimeoutSeconds = 10
	defaultArtifactsEndpoint       = "localhost:9000"
	defaultArtifactsRegion         = "us-east-1"
	defaultArtifactsAccessKey      = "minioadmin"
	defaultArtifactsSecretKey      = "minioadmin"
	defaultPDFBucket               = "pdfs"
	defaultTableBucket             = "parquets"
	defaultTableFormat             = "parquet"
	defaultLLMProvider             = "openai"
	defaultLLMTimeoutSeconds       = 300
	defaultLLMTemperature          = 0.4
	defaultLLMMaxOutputTokens      = 10000
	defaultLLMReferer              = "https://github.com/manumartinm/ps3-worker"
	defaultLLMTitle                = "PS3 Worker"
	defaultMaxVariants             = 20
	defaultDiscoveryAttempts       = 2
	defaultExtractionAttempts      = 2
	defaultRetryDelaySeconds       = 2
	defaultRasterizerBinary        = "pdftoppm"
	defaultRasterDPI               = 150
	defaultProgressHistoryLimit    = 100
	defaultProgressMaxTasks        = 1024
	defaultProgressSubscriberBuf   = 64
	defaultAPIBind                 = "127.0.0.1:7490"
	defaultAPICORSOrigin           = "*"
	defaultMetricsBucket           = "ps3_worker"
)

// defaultModels maps each provider to the model used when none is configured.
var defaultModels = map[string]string{
	ProviderGemini:     "gemini-2.5-pro",
	ProviderOllama:     "gemma3:12b",
	ProviderOpenAI:     "gpt-5",
	ProviderOpenRouter: "google/gemini-2.5-pro",
}

// defaultBaseURLs maps each provider to its default endpoint.
var defaultBaseURLs = map[string]string{
	ProviderGemini:     "https://generativelanguage.googleapis.com/v1beta",
	ProviderOllama:     "http://localhost:11434",
	ProviderOpenAI:     "https://api.openai.com/v1",
	ProviderOpenRouter: "https://openrouter.ai/api/v1/chat/completions",
}

// Supported LLM providers.
const (
	ProviderGemini     = "gemini"
	ProviderOllama     = "ollama"
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
)

// Supported task store backends.
const (
	BackendMongo  = "mongo"
	BackendSQLite = "sqlite"
)

// Supported table formats.
const (
	FormatParquet = "parquet"
	FormatXLSX    = "xlsx"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:  defaultWorkDir,
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Broker: Broker{
			Host:                  defaultBrokerHost,
			Port:                  defaultBrokerPort,
			Username:              defaultBrokerUsername,
			Password:              defaultBrokerPassword,
			VirtualHost:           defaultBrokerVirtualHost,
			Queue:                 defaultBrokerQueue,
			ReconnectDelaySeconds: defaultBrokerReconnectDelay,
		},
		TaskStore: TaskStore{
			Backend:        defaultTaskStoreBackend,
			MongoURI:       defaultMongoURI,
			Database:       defaultMongoDatabase,
			Collection:     defaultMongoCollection,
			TimeoutSeconds: defaultTaskStoreTimeoutSeconds,
		},
		Artifacts: Artifacts{
			Endpoint:    defaultArtifactsEndpoint,
			Region:      defaultArtifactsRegion,
			AccessKey:   defaultArtifactsAccessKey,
			SecretKey:   defaultArtifactsSecretKey,
			PDFBucket:   defaultPDFBucket,
			TableBucket: defaultTableBucket,
			TableFormat: defaultTableFormat,
		},
		LLM: LLM{
			Provider:        defaultLLMProvider,
			Referer:         defaultLLMReferer,
			Title:           defaultLLMTitle,
			TimeoutSeconds:  defaultLLMTimeoutSeconds,
			Temperature:     defaultLLMTemperature,
			MaxOutputTokens: defaultLLMMaxOutputTokens,
		},
		Pipeline: Pipeline{
			MaxVariants:        defaultMaxVariants,
			DiscoveryAttempts:  defaultDiscoveryAttempts,
			ExtractionAttempts: defaultExtractionAttempts,
			RetryDelaySeconds:  defaultRetryDelaySeconds,
			RasterizerBinary:   defaultRasterizerBinary,
			RasterDPI:          defaultRasterDPI,
		},
		Progress: Progress{
			HistoryLimit:     defaultProgressHistoryLimit,
			MaxTasks:         defaultProgressMaxTasks,
			SubscriberBuffer: defaultProgressSubscriberBuf,
		},
		API: API{
			Enabled:    true,
			Bind:       defaultAPIBind,
			CORSOrigin: defaultAPICORSOrigin,
		},
		Metrics: Metrics{
			Bucket: defaultMetricsBucket,
		},
	}
}
