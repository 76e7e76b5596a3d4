package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/manumartinm/ps3-worker/internal/api"
	"github.com/manumartinm/ps3-worker/internal/config"
	"github.com/manumartinm/ps3-worker/internal/consumer"
	"github.com/manumartinm/ps3-worker/internal/daemon"
	"github.com/manumartinm/ps3-worker/internal/logging"
	"github.com/manumartinm/ps3-worker/internal/preflight"
	"github.com/manumartinm/ps3-worker/internal/staging"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel      string
	Development   bool
	SkipPreflight bool
}

// Run starts the worker and blocks until a signal arrives or the consumer
// stops on its own.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	logCfg := *cfg
	if opts.LogLevel != "" {
		logCfg.Logging.Level = opts.LogLevel
	}
	if opts.Development {
		logCfg.Logging.Format = "console"
	}
	logger, err := logging.NewFromConfig(&logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.StateDir, "ps3-worker.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	svc, err := Open(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("open services", logging.Error(err), logging.Alert("startup"))
		return err
	}
	defer svc.Close(context.Background())

	logDependencySnapshot(logger, cfg, svc)
	if !opts.SkipPreflight {
		reportPreflight(logger, preflight.RunAll(signalCtx, cfg, svc.Probes(cfg, true)))
	}
	if err := svc.Artifacts.EnsureBuckets(signalCtx); err != nil {
		logger.Error("ensure buckets", logging.Error(err), logging.Alert("startup"))
		return err
	}

	queue := consumer.New(consumer.DialAMQP(cfg.BrokerURL(), cfg.Broker.Queue), svc.Runner, consumer.Options{
		ReconnectDelay: cfg.ReconnectDelay(),
		Logger:         logger,
	})

	var apiServer daemon.APIServer
	if cfg.API.Enabled {
		server, err := api.New(api.Options{
			Bind:       cfg.API.Bind,
			JWTSecret:  cfg.API.JWTSecret,
			CORSOrigin: cfg.API.CORSOrigin,
			Tasks:      svc.Store,
			Events:     svc.Events,
			Health:     healthFunc(cfg, svc),
			Logger:     logger,
		})
		if err != nil {
			return fmt.Errorf("create api server: %w", err)
		}
		apiServer = server
	}

	d, err := daemon.New(cfg.LockPath(), queue, apiServer, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	d.BeforeStart(func(ctx context.Context) {
		swept := staging.CleanStale(ctx, cfg.Paths.WorkDir, staging.DefaultStaleAge, logger)
		if len(swept.Removed) > 0 || len(swept.Errors) > 0 {
			logger.Info("work dir swept",
				logging.Int("removed", len(swept.Removed)),
				logging.Int("errors", len(swept.Errors)),
				logging.String(logging.FieldEventType, "work_cleanup_summary"),
			)
		}
	})
	if err := d.Start(signalCtx); err != nil {
		return err
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- d.Wait() }()
	select {
	case <-signalCtx.Done():
		logger.Info("ps3 worker shutting down", logging.String(logging.FieldEventType, "shutdown"))
		d.Stop()
		return nil
	case err := <-waitErr:
		d.Stop()
		return err
	}
}

// healthFunc serves the cheap checks only; the LLM probe costs a model call.
func healthFunc(cfg *config.Config, svc *Services) api.HealthFunc {
	return func(ctx context.Context) []api.Check {
		probes := svc.Probes(cfg, false)
		results := []preflight.Result{
			preflight.CheckTaskStore(ctx, cfg.TaskStore.Backend, probes.Store),
			preflight.CheckBuckets(ctx, probes.Objects, cfg.Artifacts.PDFBucket, cfg.Artifacts.TableBucket),
		}
		checks := make([]api.Check, 0, len(results))
		for _, r := range results {
			checks = append(checks, api.Check{Name: r.Name, OK: r.Passed || r.Skipped, Detail: r.Detail})
		}
		return checks
	}
}

func reportPreflight(logger *slog.Logger, results []preflight.Result) {
	for _, r := range preflight.Failed(results) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "run ps3worker preflight for details"),
		)
	}
	logger.Info("preflight finished",
		logging.String(logging.FieldEventType, "preflight_complete"),
		logging.Int("checks", len(results)),
		logging.Int("failed", len(preflight.Failed(results))),
	)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config, svc *Services) {
	if logger == nil || cfg == nil {
		return
	}
	rasterErr := svc.Raster.Available()
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("llm_provider", svc.LLM.ProviderName()),
		logging.String("llm_model", cfg.LLM.Model),
		logging.Bool("llm_key_present", strings.TrimSpace(cfg.LLM.APIKey) != ""),
		logging.String("task_store", cfg.TaskStore.Backend),
		logging.String("artifact_endpoint", svc.Objects.Endpoint()),
		logging.String("table_format", cfg.Artifacts.TableFormat),
		logging.String("rasterizer", svc.Raster.Binary()),
		logging.Bool("rasterizer_available", rasterErr == nil),
		logging.Bool("api_enabled", cfg.API.Enabled),
		logging.Bool("metrics_enabled", cfg.Metrics.Enabled),
		logging.String("queue", cfg.Broker.Queue),
	)
	if rasterErr != nil {
		logging.WarnWithContext(logger, "rasterizer not found", "dependency_missing",
			logging.Error(rasterErr),
			logging.String(logging.FieldErrorHint, "install poppler-utils or set pipeline.rasterizer_binary"),
		)
	}
}
