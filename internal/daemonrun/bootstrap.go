package daemonrun

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/manumartinm/ps3-worker/internal/artifacts"
	"github.com/manumartinm/ps3-worker/internal/config"
	"github.com/manumartinm/ps3-worker/internal/consumer"
	"github.com/manumartinm/ps3-worker/internal/lifecycle"
	"github.com/manumartinm/ps3-worker/internal/metrics"
	"github.com/manumartinm/ps3-worker/internal/pdf"
	"github.com/manumartinm/ps3-worker/internal/pipeline"
	"github.com/manumartinm/ps3-worker/internal/preflight"
	"github.com/manumartinm/ps3-worker/internal/progress"
	"github.com/manumartinm/ps3-worker/internal/services/llm"
	"github.com/manumartinm/ps3-worker/internal/taskstore"
	"github.com/manumartinm/ps3-worker/internal/workflow"
)

// Services holds every long-lived collaborator of a running worker.
type Services struct {
	Store     taskstore.Store
	Objects   *artifacts.S3Objects
	Artifacts *artifacts.Store
	LLM       *llm.Client
	Raster    *pdf.Rasterizer
	Events    *progress.Broadcaster
	Metrics   metrics.Recorder
	Runner    *workflow.Runner
}

// Open connects the task store, object store, LLM client and metrics sink
// and builds the task runner on top of them.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Services, error) {
	store, err := taskstore.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	svc := &Services{Store: store}
	fail := func(err error) (*Services, error) {
		svc.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	svc.Objects, err = artifacts.NewS3Objects(ctx, cfg.Artifacts)
	if err != nil {
		return fail(fmt.Errorf("open object store: %w", err))
	}
	encoder, err := artifacts.NewEncoder(cfg.Artifacts.TableFormat)
	if err != nil {
		return fail(err)
	}
	svc.Artifacts = artifacts.NewStore(svc.Objects, encoder, artifacts.Buckets{
		PDFs:   cfg.Artifacts.PDFBucket,
		Tables: cfg.Artifacts.TableBucket,
	})

	svc.LLM, err = llm.NewClient(LLMConfig(cfg), llm.WithLogger(logger))
	if err != nil {
		return fail(err)
	}
	svc.Raster = pdf.NewRasterizer(pdf.Options{
		Binary:    cfg.Pipeline.RasterizerBinary,
		DPI:       cfg.Pipeline.RasterDPI,
		Grayscale: cfg.Pipeline.Grayscale,
	})
	svc.Events = progress.New(progress.Options{
		HistoryLimit:     cfg.Progress.HistoryLimit,
		MaxTasks:         cfg.Progress.MaxTasks,
		SubscriberBuffer: cfg.Progress.SubscriberBuffer,
		Logger:           logger,
	})
	svc.Metrics, err = metrics.New(ctx, cfg.Metrics, logger)
	if err != nil {
		return fail(fmt.Errorf("open metrics: %w", err))
	}

	svc.Runner = workflow.NewRunner(workflow.Dependencies{
		Lifecycle: lifecycle.NewManager(store, logger),
		Artifacts: svc.Artifacts,
		Pipeline:  pipeline.New(svc.LLM, svc.Raster, svc.Events, PipelineConfig(cfg), logger),
		Events:    svc.Events,
		Metrics:   svc.Metrics,
		WorkDir:   cfg.Paths.WorkDir,
		Provider:  svc.LLM.ProviderName(),
		Logger:    logger,
	})
	return svc, nil
}

// Close releases every open connection.
func (s *Services) Close(ctx context.Context) {
	if s.Events != nil {
		s.Events.Close()
	}
	if s.Metrics != nil {
		s.Metrics.Close()
	}
	if s.Store != nil {
		_ = s.Store.Close(ctx)
	}
}

// Probes exposes the live connections to preflight.
func (s *Services) Probes(cfg *config.Config, includeLLM bool) preflight.Probes {
	probes := preflight.Probes{
		Broker: BrokerProbe(cfg),
		Store:  s.Store,
	}
	if s.Objects != nil {
		probes.Objects = s.Objects
	}
	if includeLLM && s.LLM != nil {
		probes.LLM = s.LLM
	}
	return probes
}

// BrokerProbe opens and closes one broker session.
func BrokerProbe(cfg *config.Config) func(context.Context) error {
	return func(ctx context.Context) error {
		broker, err := consumer.OpenAMQP(ctx, cfg.BrokerURL(), cfg.Broker.Queue)
		if err != nil {
			return err
		}
		return broker.Close()
	}
}

// LLMConfig maps the llm section onto the client configuration.
func LLMConfig(cfg *config.Config) llm.Config {
	return llm.Config{
		Provider:        cfg.LLM.Provider,
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		Referer:         cfg.LLM.Referer,
		Title:           cfg.LLM.Title,
		TimeoutSeconds:  cfg.LLM.TimeoutSeconds,
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
	}
}

// PipelineConfig maps the pipeline section onto discovery and extraction
// retry policies.
func PipelineConfig(cfg *config.Config) pipeline.Config {
	out := pipeline.DefaultConfig()
	if cfg.Pipeline.MaxVariants > 0 {
		out.MaxVariants = cfg.Pipeline.MaxVariants
	}
	if cfg.Pipeline.DiscoveryAttempts > 0 {
		out.Discovery.MaxAttempts = cfg.Pipeline.DiscoveryAttempts
	}
	if cfg.Pipeline.ExtractionAttempts > 0 {
		out.Extraction.MaxAttempts = cfg.Pipeline.ExtractionAttempts
	}
	out.Discovery.Delay = cfg.RetryDelay()
	out.Extraction.Delay = cfg.RetryDelay()
	return out
}
