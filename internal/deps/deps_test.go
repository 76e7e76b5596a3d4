package deps_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/manumartinm/ps3-worker/internal/config"
	"github.com/manumartinm/ps3-worker/internal/deps"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []deps.Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank", Command: "  ", Optional: true},
	}

	results := deps.CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Path != present || results[0].Detail != "" {
		t.Fatalf("expected first requirement available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}
	if deps.Satisfied(results) {
		t.Fatal("missing required binary must not satisfy")
	}
	if !deps.Satisfied([]deps.Status{results[0], results[2]}) {
		t.Fatal("optional gaps must not fail the check")
	}
}

func TestRequirementsUseConfiguredRasterizer(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.RasterizerBinary = "/opt/poppler/bin/pdftoppm"
	reqs := deps.Requirements(&cfg)
	if len(reqs) != 1 || reqs[0].Command != "/opt/poppler/bin/pdftoppm" {
		t.Fatalf("unexpected requirements %+v", reqs)
	}
	if got := deps.Requirements(nil)[0].Command; got != "pdftoppm" {
		t.Fatalf("expected default binary, got %q", got)
	}
}
