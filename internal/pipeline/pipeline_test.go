package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/manumartinm/ps3-worker/internal/evidence"
	"github.com/manumartinm/ps3-worker/internal/oddspath"
	"github.com/manumartinm/ps3-worker/internal/pipeline"
	"github.com/manumartinm/ps3-worker/internal/progress"
	"github.com/manumartinm/ps3-worker/internal/services"
	"github.com/manumartinm/ps3-worker/internal/services/llm"
)

type fakeRasterizer struct {
	pages int
	err   error
	dir   string
}

func (f *fakeRasterizer) Rasterize(_ context.Context, _ string, outDir string) ([]string, error) {
	f.dir = outDir
	if f.err != nil {
		return nil, f.err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	var pages []string
	for i := 1; i <= f.pages; i++ {
		path := filepath.Join(outDir, fmt.Sprintf("page-%d.jpg", i))
		if err := os.WriteFile(path, []byte("jpg"), 0o644); err != nil {
			return nil, err
		}
		pages = append(pages, path)
	}
	return pages, nil
}

type fakeClient struct {
	mu          sync.Mutex
	variants    string
	records     map[string]string
	failVariant string
	calls       []llm.Request
}

func (f *fakeClient) Send(_ context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if req.Schema == evidence.VariantsSchema {
		return llm.Response{Data: json.RawMessage(f.variants)}, nil
	}
	for variant, body := range f.records {
		if strings.Contains(req.Prompt, "variant "+variant+".") {
			if variant == f.failVariant {
				return llm.Response{}, fmt.Errorf("%w: upstream 503", services.ErrTransient)
			}
			return llm.Response{Data: json.RawMessage(body)}, nil
		}
	}
	return llm.Response{}, errors.New("unexpected prompt")
}

func (f *fakeClient) extractionCalls() int {
	n := 0
	for _, call := range f.calls {
		if call.Schema == evidence.ResearchSchema {
			n++
		}
	}
	return n
}

func recordJSON(gene, variant string, pathogenic, total, abnormal int) string {
	fields := map[string]any{}
	for _, name := range evidence.FieldOrder() {
		fields[name] = map[string]any{"value": nil, "explanation": nil}
	}
	set := func(name string, value any) {
		fields[name] = map[string]any{"value": value, "explanation": "reported in " + name}
	}
	set(evidence.FieldGene, gene)
	set(evidence.FieldVariantName, variant)
	set(evidence.FieldPathogenicVariants, pathogenic)
	set(evidence.FieldTotalVariants, total)
	set(evidence.FieldPathogenicAbnormalVariants, abnormal)
	set(evidence.FieldReplicates, 3)
	set(evidence.FieldReproducible, true)
	set(evidence.FieldValidationProcess, "Western blot")
	set(evidence.FieldStatisticalAnalysis, "t-test")
	out, _ := json.Marshal(map[string]any{"data": fields})
	return string(out)
}

func variantsJSON(keys ...evidence.VariantKey) string {
	out, _ := json.Marshal(map[string]any{"data": keys})
	return string(out)
}

func testConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	noSleep := func(context.Context, time.Duration) error { return nil }
	cfg.Discovery.Sleeper = noSleep
	cfg.Extraction.Sleeper = noSleep
	return cfg
}

func progressEvents(events []progress.Event) []string {
	var out []string
	for _, evt := range events {
		if evt.Kind != progress.KindProgress {
			continue
		}
		out = append(out, fmt.Sprintf("%v:%v", evt.Data["stage"], evt.Data["progress"]))
	}
	return out
}

func TestRunProducesTablesAndProgress(t *testing.T) {
	client := &fakeClient{
		variants: variantsJSON(
			evidence.VariantKey{Gene: "BRCA1", Variant: "p.Cys61Gly"},
			evidence.VariantKey{Gene: "TP53", Variant: "p.Arg175His"},
		),
		records: map[string]string{
			"p.Cys61Gly":  recordJSON("BRCA1", "p.Cys61Gly", 10, 20, 8),
			"p.Arg175His": recordJSON("TP53", "p.Arg175His", 0, 20, 0),
		},
	}
	raster := &fakeRasterizer{pages: 3}
	events := progress.New(progress.Options{})
	workDir := t.TempDir()
	p := pipeline.New(client, raster, events, testConfig(), nil)

	result, err := p.Run(context.Background(), pipeline.Input{
		TaskID:   "task-1",
		PDFPath:  filepath.Join(workDir, "10.1000-xyz123.pdf"),
		Filename: "10.1000-xyz123.pdf",
		WorkDir:  workDir,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.DOI != "10.1000/xyz123" {
		t.Fatalf("unexpected doi %q", result.DOI)
	}
	if result.Classification.Len() != 2 || result.Explanations.Len() != 2 {
		t.Fatalf("expected two rows per table, got %d/%d", result.Classification.Len(), result.Explanations.Len())
	}
	if got := result.Outcomes[0].Category; got != oddspath.CategoryPS3Supporting {
		t.Fatalf("expected PS3_supporting for first variant, got %q", got)
	}
	if got, _ := result.Classification.Cell(1, oddspath.ColumnCategory); got != string(oddspath.CategoryIndeterminate) {
		t.Fatalf("expected indeterminate for zero pathogenic variants, got %v", got)
	}
	if got, _ := result.Explanations.Cell(0, evidence.SourceDOIColumn); got != "10.1000/xyz123" {
		t.Fatalf("expected source doi column on explanations, got %v", got)
	}

	want := []string{
		"init:0", "conversion:10", "conversion:20", "extraction:30", "extraction:40",
		"processing:40", "processing:60", "calculation:80", "finalization:90",
	}
	if got := progressEvents(events.History("task-1")); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected progress sequence\n got %v\nwant %v", got, want)
	}
	for _, call := range client.calls {
		if len(call.Images) != 3 {
			t.Fatalf("expected all three pages in every request, got %d", len(call.Images))
		}
	}
	if _, err := os.Stat(raster.dir); !os.IsNotExist(err) {
		t.Fatalf("expected page directory removed, stat err=%v", err)
	}
}

func TestRunRejectsVariantCountOutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		count int
	}{
		{name: "none", count: 0},
		{name: "too many", count: 21},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keys := make([]evidence.VariantKey, 0, tt.count)
			for i := 0; i < tt.count; i++ {
				keys = append(keys, evidence.VariantKey{Gene: "GENE", Variant: fmt.Sprintf("p.Ala%dVal", i+1)})
			}
			client := &fakeClient{variants: variantsJSON(keys...)}
			events := progress.New(progress.Options{})
			raster := &fakeRasterizer{pages: 1}
			p := pipeline.New(client, raster, events, testConfig(), nil)

			_, err := p.Run(context.Background(), pipeline.Input{TaskID: "t", Filename: "a.pdf", WorkDir: t.TempDir()})
			if !errors.Is(err, pipeline.ErrVariantCount) || !errors.Is(err, services.ErrSanityBound) {
				t.Fatalf("expected variant count error, got %v", err)
			}
			if !pipeline.IsSanityAbort(err) {
				t.Fatal("IsSanityAbort should report the bound abort")
			}
			if n := client.extractionCalls(); n != 0 {
				t.Fatalf("expected no extraction calls, got %d", n)
			}
			history := events.History("t")
			last := history[len(history)-1]
			if last.Kind != progress.KindError {
				t.Fatalf("expected trailing error event, got %+v", last)
			}
			if _, err := os.Stat(raster.dir); !os.IsNotExist(err) {
				t.Fatalf("expected page directory removed on failure, stat err=%v", err)
			}
		})
	}
}

func TestRunFailsWhenVariantRetriesExhausted(t *testing.T) {
	client := &fakeClient{
		variants: variantsJSON(
			evidence.VariantKey{Gene: "BRCA1", Variant: "p.Cys61Gly"},
			evidence.VariantKey{Gene: "BRCA1", Variant: "p.Met1Val"},
		),
		records: map[string]string{
			"p.Cys61Gly": recordJSON("BRCA1", "p.Cys61Gly", 10, 20, 8),
			"p.Met1Val":  "",
		},
		failVariant: "p.Met1Val",
	}
	p := pipeline.New(client, &fakeRasterizer{pages: 2}, nil, testConfig(), nil)
	_, err := p.Run(context.Background(), pipeline.Input{TaskID: "t", Filename: "a.pdf", WorkDir: t.TempDir()})
	var exhausted *llm.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected exhausted retry error, got %v", err)
	}
	if exhausted.Attempts != 2 {
		t.Fatalf("expected two attempts, got %d", exhausted.Attempts)
	}
	if !strings.Contains(err.Error(), "p.Met1Val") {
		t.Fatalf("expected failing variant in error, got %v", err)
	}
	if n := client.extractionCalls(); n != 3 {
		t.Fatalf("expected 1 + 2 extraction calls, got %d", n)
	}
}

func TestRunStopsOnRasterizerError(t *testing.T) {
	client := &fakeClient{}
	events := progress.New(progress.Options{})
	raster := &fakeRasterizer{err: services.Wrap(services.ErrExternalTool, "conversion", "pdftoppm", "broken", nil)}
	p := pipeline.New(client, raster, events, testConfig(), nil)
	_, err := p.Run(context.Background(), pipeline.Input{TaskID: "t", Filename: "a.pdf", WorkDir: t.TempDir()})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if len(client.calls) != 0 {
		t.Fatal("no LLM calls expected after conversion failure")
	}
	history := events.History("t")
	if history[len(history)-1].Data["error"] != "conversion failed" {
		t.Fatalf("expected conversion failure event, got %+v", history[len(history)-1])
	}
}

func TestRunDeduplicatesVariants(t *testing.T) {
	client := &fakeClient{
		variants: variantsJSON(
			evidence.VariantKey{Gene: "brca1", Variant: "p.Cys61Gly"},
			evidence.VariantKey{Gene: "BRCA1", Variant: "p.Cys61Gly"},
			evidence.VariantKey{Gene: "BRCA1", Variant: "Cys61Gly"},
		),
		records: map[string]string{"p.Cys61Gly": recordJSON("BRCA1", "p.Cys61Gly", 10, 20, 8)},
	}
	p := pipeline.New(client, &fakeRasterizer{pages: 1}, nil, testConfig(), nil)
	result, err := p.Run(context.Background(), pipeline.Input{TaskID: "t", Filename: "a.pdf", WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Variants) != 1 || client.extractionCalls() != 1 {
		t.Fatalf("expected one unique variant, got %v (%d calls)", result.Variants, client.extractionCalls())
	}
}
