package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/manumartinm/ps3-worker/internal/evidence"
	"github.com/manumartinm/ps3-worker/internal/logging"
	"github.com/manumartinm/ps3-worker/internal/oddspath"
	"github.com/manumartinm/ps3-worker/internal/progress"
	"github.com/manumartinm/ps3-worker/internal/services"
	"github.com/manumartinm/ps3-worker/internal/services/llm"
)

// Stage names reported in progress events.
const (
	StageInit         = "init"
	StageConversion   = "conversion"
	StageExtraction   = "extraction"
	StageProcessing   = "processing"
	StageCalculation  = "calculation"
	StageFinalization = "finalization"
	// StageCompleted is reported by the caller once the tables are stored.
	StageCompleted    = "completed"
)

const defaultMaxVariants = 20

var (
	// ErrVariantCount aborts a task whose discovery step found no variants or
	// more than the configured maximum.
	ErrVariantCount = fmt.Errorf("variant count out of range: %w", services.ErrSanityBound)
	// ErrEmptyResult reports that aggregation produced no rows.
	ErrEmptyResult = fmt.Errorf("no rows extracted: %w", services.ErrEmptyResult)
)

// Extractor sends one structured request to the configured LLM.
type Extractor interface {
	Send(ctx context.Context, req llm.Request) (llm.Response, error)
}

// Rasterizer renders a PDF into page images.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath, outDir string) ([]string, error)
}

// Config tunes discovery bounds and retry behaviour.
type Config struct {
	MaxVariants int
	Discovery   llm.RetryPolicy
	Extraction  llm.RetryPolicy
}

// DefaultConfig matches the worker defaults: at most 20 variants, two
// attempts two seconds apart for every LLM call.
func DefaultConfig() Config {
	return Config{
		MaxVariants: defaultMaxVariants,
		Discovery:   llm.DefaultRetryPolicy(),
		Extraction:  llm.DefaultRetryPolicy(),
	}
}

// Input identifies the document to process.
type Input struct {
	TaskID   string
	PDFPath  string
	Filename string
	WorkDir  string
}

// Result holds the two output tables of a task.
type Result struct {
	DOI            string
	Variants       []evidence.VariantKey
	Classification evidence.Table
	Explanations   evidence.Table
	Outcomes       []oddspath.Result
}

// Pipeline turns one PDF into classified evidence tables.
type Pipeline struct {
	client Extractor
	raster Rasterizer
	events progress.Publisher
	cfg    Config
	logger *slog.Logger
}

// New constructs a Pipeline. events may be nil.
func New(client Extractor, raster Rasterizer, events progress.Publisher, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.MaxVariants <= 0 {
		cfg.MaxVariants = defaultMaxVariants
	}
	logger = logging.NewComponentLogger(logger, "pipeline")
	cfg.Discovery.Logger = logger
	cfg.Extraction.Logger = logger
	return &Pipeline{client: client, raster: raster, events: events, cfg: cfg, logger: logger}
}

// Run executes every stage for in. Page images live under WorkDir/pages and
// are removed before Run returns. A failure at any stage aborts the task; no
// partial result is returned.
func (p *Pipeline) Run(ctx context.Context, in Input) (result Result, err error) {
	ctx = services.WithTaskID(ctx, in.TaskID)
	logger := logging.WithContext(ctx, p.logger)
	stage := StageInit
	defer func() {
		if err != nil {
			progress.Error(p.events, in.TaskID, stageFailure(stage), services.Details(err))
		}
	}()

	p.report(in.TaskID, StageInit, 0, "starting PDF processing")

	stage = StageConversion
	p.report(in.TaskID, StageConversion, 10, "converting PDF to images")
	pagesDir := filepath.Join(in.WorkDir, "pages")
	defer func() {
		if rmErr := os.RemoveAll(pagesDir); rmErr != nil {
			logger.Warn("page image cleanup failed",
				logging.String("path", pagesDir),
				logging.Error(rmErr),
				logging.String(logging.FieldEventType, "cleanup_failed"),
				logging.String(logging.FieldErrorHint, "remove the directory manually"),
			)
		}
	}()
	pages, err := p.raster.Rasterize(services.WithStage(ctx, stage), in.PDFPath, pagesDir)
	if err != nil {
		return Result{}, err
	}
	p.report(in.TaskID, StageConversion, 20, fmt.Sprintf("PDF converted to %d images", len(pages)))

	stage = StageExtraction
	p.report(in.TaskID, StageExtraction, 30, "extracting functional variants")
	variants, err := p.discover(services.WithStage(ctx, stage), pages)
	if err != nil {
		return Result{}, err
	}
	if len(variants) == 0 || len(variants) > p.cfg.MaxVariants {
		return Result{}, fmt.Errorf("%w: found %d (allowed 1-%d)", ErrVariantCount, len(variants), p.cfg.MaxVariants)
	}
	p.report(in.TaskID, StageExtraction, 40, fmt.Sprintf("variants extracted: %d", len(variants)))
	logger.Info("variants discovered", logging.Int("count", len(variants)))

	stage = StageProcessing
	records := make([]evidence.Record, 0, len(variants))
	total := len(variants)
	for i, key := range variants {
		percent := 40 + int(float64(i)/float64(total)*40)
		p.report(in.TaskID, StageProcessing, percent, fmt.Sprintf("processing variant %d/%d", i+1, total))
		record, err := p.extract(services.WithStage(ctx, stage), key, pages)
		if err != nil {
			return Result{}, err
		}
		records = append(records, record)
	}

	stage = StageCalculation
	p.report(in.TaskID, StageCalculation, 80, "calculating odds path")
	doi := evidence.DOIFromFilename(firstNonEmpty(in.Filename, in.PDFPath))
	values, explanations := evidence.BuildTables(records, doi)
	classification, outcomes := oddspath.ClassifyTable(values)

	stage = StageFinalization
	p.report(in.TaskID, StageFinalization, 90, "building explanations")
	if classification.Len() == 0 && explanations.Len() == 0 {
		return Result{}, ErrEmptyResult
	}

	logger.Info("pipeline finished",
		logging.Int("variants", total),
		logging.Int("rows", classification.Len()),
		logging.String(logging.FieldEventType, "pipeline_complete"),
	)
	return Result{
		DOI:            doi,
		Variants:       variants,
		Classification: classification,
		Explanations:   explanations,
		Outcomes:       outcomes,
	}, nil
}

func (p *Pipeline) discover(ctx context.Context, pages []string) ([]evidence.VariantKey, error) {
	started := time.Now()
	keys, err := llm.Retry(ctx, p.cfg.Discovery, "discover variants", func(ctx context.Context, attempt int) ([]evidence.VariantKey, error) {
		resp, err := p.client.Send(ctx, llm.Request{
			Prompt: evidence.VariantsPrompt(),
			Images: pages,
			Schema: evidence.VariantsSchema,
		})
		if err != nil {
			return nil, err
		}
		return evidence.ParseVariants(resp.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("variant discovery: %w", err)
	}
	logging.WithContext(ctx, p.logger).Debug("discovery finished",
		logging.Int("pages", len(pages)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return keys, nil
}

func (p *Pipeline) extract(ctx context.Context, key evidence.VariantKey, pages []string) (evidence.Record, error) {
	prompt, err := evidence.ExtractionPrompt(key)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, StageProcessing, "render prompt", key.String(), err)
	}
	record, err := llm.Retry(ctx, p.cfg.Extraction, "extract "+key.String(), func(ctx context.Context, attempt int) (evidence.Record, error) {
		resp, err := p.client.Send(ctx, llm.Request{
			Prompt: prompt,
			Images: pages,
			Schema: evidence.ResearchSchema,
		})
		if err != nil {
			return nil, err
		}
		return evidence.ParseRecord(resp.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("variant %s: %w", key, err)
	}
	return record, nil
}

func (p *Pipeline) report(taskID, stage string, percent int, message string) {
	progress.Progress(p.events, taskID, stage, percent, message)
}

func stageFailure(stage string) string {
	return stage + " failed"
}

// IsSanityAbort reports whether err is the discovery bound abort.
func IsSanityAbort(err error) bool {
	return errors.Is(err, ErrVariantCount)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
