package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/manumartinm/ps3-worker/internal/artifacts"
	"github.com/manumartinm/ps3-worker/internal/consumer"
	"github.com/manumartinm/ps3-worker/internal/evidence"
	"github.com/manumartinm/ps3-worker/internal/lifecycle"
	"github.com/manumartinm/ps3-worker/internal/logging"
	"github.com/manumartinm/ps3-worker/internal/metrics"
	"github.com/manumartinm/ps3-worker/internal/pipeline"
	"github.com/manumartinm/ps3-worker/internal/progress"
	"github.com/manumartinm/ps3-worker/internal/services"
	"github.com/manumartinm/ps3-worker/internal/staging"
	"github.com/manumartinm/ps3-worker/internal/taskstore"
)

const failureWriteTimeout = 10 * time.Second

// Pipeline runs the extraction stages for one PDF.
type Pipeline interface {
	Run(ctx context.Context, in pipeline.Input) (pipeline.Result, error)
}

// Artifacts moves the task's files.
type Artifacts interface {
	Download(ctx context.Context, taskID, filename, dest string) (string, error)
	Upload(ctx context.Context, taskID, filename string, table evidence.Table, kind artifacts.Kind) (string, error)
}

// Lifecycle records status transitions.
type Lifecycle interface {
	MarkProcessing(ctx context.Context, id string) error
	RecordOutputPaths(ctx context.Context, id string, refs lifecycle.OutputRefs) error
	MarkCompleted(ctx context.Context, id string, refs lifecycle.OutputRefs) error
	MarkFailed(ctx context.Context, id string, message string) error
}

// Dependencies bundles the collaborators of a Runner. Events and Metrics
// may be nil.
type Dependencies struct {
	Lifecycle Lifecycle
	Artifacts Artifacts
	Pipeline  Pipeline
	Events    progress.Publisher
	Metrics   metrics.Recorder
	WorkDir   string
	Provider  string
	Logger    *slog.Logger
}

// Runner processes descriptors. It implements consumer.Processor.
type Runner struct {
	lifecycle Lifecycle
	artifacts Artifacts
	pipeline  Pipeline
	events    progress.Publisher
	metrics   metrics.Recorder
	workDir   string
	provider  string
	logger    *slog.Logger
	now       func() time.Time
}

var _ consumer.Processor = (*Runner)(nil)

// NewRunner constructs a Runner.
func NewRunner(deps Dependencies) *Runner {
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &Runner{
		lifecycle: deps.Lifecycle,
		artifacts: deps.Artifacts,
		pipeline:  deps.Pipeline,
		events:    deps.Events,
		metrics:   recorder,
		workDir:   deps.WorkDir,
		provider:  deps.Provider,
		logger:    logging.NewComponentLogger(deps.Logger, "runner"),
		now:       time.Now,
	}
}

// pipelineError marks failures whose error event the pipeline already emitted.
type pipelineError struct{ err error }

func (e pipelineError) Error() string { return e.err.Error() }
func (e pipelineError) Unwrap() error { return e.err }

// Process runs one task. A nil return means the task is completed and
// persisted; any error means it was marked failed (or could not be touched
// because it had already finished).
func (r *Runner) Process(ctx context.Context, d consumer.Descriptor) error {
	ctx = services.WithTaskID(ctx, d.TaskID)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, r.logger)
	started := r.now()

	workDir := filepath.Join(r.workDir, d.TaskID)
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logging.WarnWithContext(logger, "work directory cleanup failed", "cleanup_failed",
				logging.String("path", workDir),
				logging.Error(err),
			)
		}
	}()

	if err := r.lifecycle.MarkProcessing(ctx, d.TaskID); err != nil {
		if errors.Is(err, taskstore.ErrInvalidTransition) {
			logger.Info("task already finished; skipping", logging.String(logging.FieldEventType, "task_skipped"))
			return err
		}
		return r.fail(ctx, d, started, fmt.Errorf("mark processing: %w", err))
	}
	progress.Status(r.events, d.TaskID, string(taskstore.StatusProcessing), "task processing started")
	logger.Info("task started",
		logging.String(logging.FieldEventType, "task_start"),
		logging.String("filename", d.Filename),
		logging.String("minio_path", d.MinioPath),
	)

	result, refs, err := r.run(ctx, logger, d, workDir)
	if err != nil {
		return r.fail(ctx, d, started, err)
	}
	if err := r.lifecycle.MarkCompleted(ctx, d.TaskID, refs); err != nil {
		return r.fail(ctx, d, started, fmt.Errorf("mark completed: %w", err))
	}

	progress.Progress(r.events, d.TaskID, pipeline.StageCompleted, 100, "processing completed")
	progress.Completion(r.events, d.TaskID, map[string]any{
		"odds_path_records":    result.Classification.Len(),
		"explanations_records": result.Explanations.Len(),
		"total_variants":       len(result.Variants),
	})
	progress.Status(r.events, d.TaskID, string(taskstore.StatusCompleted), "task completed")

	elapsed := r.now().Sub(started)
	r.record(ctx, logger, metrics.TaskOutcome{
		TaskID:     d.TaskID,
		Status:     string(taskstore.StatusCompleted),
		Provider:   r.provider,
		Variants:   len(result.Variants),
		Rows:       result.Classification.Len(),
		Duration:   elapsed,
		Categories: categoryCounts(result),
		FinishedAt: r.now(),
	})
	logger.Info("task completed",
		logging.String(logging.FieldEventType, "task_complete"),
		logging.Int("variants", len(result.Variants)),
		logging.String("parquet_path", refs.ClassificationPath),
		logging.String("explanations_path", refs.ExplanationsPath),
		logging.Duration("task_duration", elapsed),
	)
	return nil
}

func (r *Runner) run(ctx context.Context, logger *slog.Logger, d consumer.Descriptor, workDir string) (pipeline.Result, lifecycle.OutputRefs, error) {
	refs := lifecycle.OutputRefs{SourcePath: d.MinioPath}
	if err := r.stage(ctx, logger, "prepare", func(context.Context) error {
		if _, err := staging.Claim(r.workDir, d.TaskID); err != nil {
			return services.Wrap(services.ErrAcquisition, "prepare", "claim work dir", workDir, err)
		}
		return nil
	}); err != nil {
		return pipeline.Result{}, refs, err
	}

	if err := r.stage(ctx, logger, "persist", func(ctx context.Context) error {
		return r.lifecycle.RecordOutputPaths(ctx, d.TaskID, refs)
	}); err != nil {
		return pipeline.Result{}, refs, err
	}

	pdfPath := filepath.Join(workDir, filepath.Base(d.Filename))
	if err := r.stage(ctx, logger, "download", func(ctx context.Context) error {
		_, err := r.artifacts.Download(ctx, d.TaskID, d.Filename, pdfPath)
		return err
	}); err != nil {
		return pipeline.Result{}, refs, err
	}

	var result pipeline.Result
	if err := r.stage(ctx, logger, "pipeline", func(ctx context.Context) error {
		var err error
		result, err = r.pipeline.Run(ctx, pipeline.Input{
			TaskID:   d.TaskID,
			PDFPath:  pdfPath,
			Filename: d.Filename,
			WorkDir:  workDir,
		})
		if err != nil {
			return pipelineError{err: err}
		}
		return nil
	}); err != nil {
		return pipeline.Result{}, refs, err
	}

	if err := r.stage(ctx, logger, "upload", func(ctx context.Context) error {
		var err error
		if refs.ClassificationPath, err = r.artifacts.Upload(ctx, d.TaskID, d.Filename, result.Classification, artifacts.KindOddsPath); err != nil {
			return err
		}
		refs.ExplanationsPath, err = r.artifacts.Upload(ctx, d.TaskID, d.Filename, result.Explanations, artifacts.KindExplanations)
		return err
	}); err != nil {
		return pipeline.Result{}, refs, err
	}

	if err := r.stage(ctx, logger, "persist", func(ctx context.Context) error {
		return r.lifecycle.RecordOutputPaths(ctx, d.TaskID, refs)
	}); err != nil {
		return pipeline.Result{}, refs, err
	}
	return result, refs, nil
}

func (r *Runner) stage(ctx context.Context, logger *slog.Logger, name string, fn func(context.Context) error) error {
	ctx = services.WithStage(ctx, name)
	stageLogger := logger.With(logging.String(logging.FieldStage, name))
	stageStart := time.Now()
	stageLogger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))
	if err := fn(ctx); err != nil {
		stageLogger.Error("stage failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String("failure_kind", services.FailureKind(err)),
			logging.Error(err),
			logging.Duration("stage_duration", time.Since(stageStart)),
		)
		return err
	}
	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
	return nil
}

// fail persists the failure and returns cause. The status write uses a
// detached context so a shutdown still records the outcome.
func (r *Runner) fail(ctx context.Context, d consumer.Descriptor, started time.Time, cause error) error {
	logger := logging.WithContext(ctx, r.logger)
	message := services.Details(cause)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()
	if err := r.lifecycle.MarkFailed(writeCtx, d.TaskID, message); err != nil {
		logger.Error("could not record task failure",
			logging.String(logging.FieldEventType, "task_failure_unrecorded"),
			logging.Error(err),
			logging.Alert("persistence"),
		)
	}

	var fromPipeline pipelineError
	if !errors.As(cause, &fromPipeline) {
		progress.Error(r.events, d.TaskID, "task failed", message)
	}
	progress.Status(r.events, d.TaskID, string(taskstore.StatusFailed), message)

	kind := services.FailureKind(cause)
	r.record(ctx, logger, metrics.TaskOutcome{
		TaskID:      d.TaskID,
		Status:      string(taskstore.StatusFailed),
		FailureKind: kind,
		Provider:    r.provider,
		Duration:    r.now().Sub(started),
		FinishedAt:  r.now(),
	})
	logger.Error("task failed",
		logging.String(logging.FieldEventType, "task_failure"),
		logging.String("failure_kind", kind),
		logging.String("error_message", message),
		logging.Alert("task_failure"),
	)
	return cause
}

func (r *Runner) record(ctx context.Context, logger *slog.Logger, outcome metrics.TaskOutcome) {
	if err := r.metrics.RecordTask(context.WithoutCancel(ctx), outcome); err != nil {
		logging.WarnWithContext(logger, "metrics write failed", "metrics_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check metrics.url and token"),
		)
	}
}

func categoryCounts(result pipeline.Result) map[string]int {
	counts := make(map[string]int)
	for _, outcome := range result.Outcomes {
		counts[string(outcome.Category)]++
	}
	return counts
}
