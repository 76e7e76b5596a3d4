package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/manumartinm/ps3-worker/internal/services"
)

const (
	defaultBinary = "pdftoppm"
	defaultDPI    = 150
	pagePrefix    = "page"
)

// Executor runs an external command and returns its combined output.
type Executor interface {
	Run(ctx context.Context, binary string, args []string) ([]byte, error)
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	return cmd.CombinedOutput()
}

// Options configures the rasterizer.
type Options struct {
	Binary    string
	DPI       int
	Grayscale bool
}

// Rasterizer renders PDF pages to JPEG files with poppler's pdftoppm.
type Rasterizer struct {
	binary    string
	dpi       int
	grayscale bool
	exec      Executor
}

// NewRasterizer constructs a Rasterizer using os/exec.
func NewRasterizer(opts Options) *Rasterizer {
	return NewRasterizerWithExecutor(opts, commandExecutor{})
}

// NewRasterizerWithExecutor allows injecting a custom executor for testing.
func NewRasterizerWithExecutor(opts Options, executor Executor) *Rasterizer {
	if executor == nil {
		executor = commandExecutor{}
	}
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		binary = defaultBinary
	}
	dpi := opts.DPI
	if dpi <= 0 {
		dpi = defaultDPI
	}
	return &Rasterizer{binary: binary, dpi: dpi, grayscale: opts.Grayscale, exec: executor}
}

// Binary returns the configured rasterizer executable.
func (r *Rasterizer) Binary() string {
	return r.binary
}

// Rasterize writes one JPEG per page of pdfPath into outDir and returns the
// image paths in page order.
func (r *Rasterizer) Rasterize(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	if _, err := os.Stat(pdfPath); err != nil {
		return nil, services.Wrap(services.ErrValidation, "conversion", "stat pdf", pdfPath, err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "conversion", "create page dir", outDir, err)
	}

	args := []string{"-jpeg", "-r", strconv.Itoa(r.dpi)}
	if r.grayscale {
		args = append(args, "-gray")
	}
	args = append(args, pdfPath, filepath.Join(outDir, pagePrefix))
	if output, err := r.exec.Run(ctx, r.binary, args); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		msg := strings.TrimSpace(string(output))
		if msg == "" {
			msg = "rasterizer failed"
		}
		return nil, services.Wrap(services.ErrExternalTool, "conversion", r.binary, msg, err)
	}

	pages, err := PageImages(outDir)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, services.Wrap(services.ErrExternalTool, "conversion", r.binary, "no page images produced", nil)
	}
	return pages, nil
}

// PageImages lists page-N.jpg files in dir ordered by page number. pdftoppm
// zero-pads N to the width of the page count, so lexical order is not enough.
func PageImages(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pagePrefix+"-*.jpg"))
	if err != nil {
		return nil, fmt.Errorf("list page images: %w", err)
	}
	type page struct {
		path string
		num  int
	}
	pages := make([]page, 0, len(matches))
	for _, match := range matches {
		num, ok := pageNumber(filepath.Base(match))
		if !ok {
			continue
		}
		pages = append(pages, page{path: match, num: num})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].num < pages[j].num })
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.path
	}
	return out, nil
}

func pageNumber(name string) (int, bool) {
	digits := strings.TrimSuffix(strings.TrimPrefix(name, pagePrefix+"-"), ".jpg")
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Available reports whether the rasterizer binary can be found on PATH.
func (r *Rasterizer) Available() error {
	if _, err := exec.LookPath(r.binary); err != nil {
		return errors.Join(services.ErrExternalTool, fmt.Errorf("%s not found: %w", r.binary, err))
	}
	return nil
}
