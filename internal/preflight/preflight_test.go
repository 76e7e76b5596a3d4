package preflight_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/manumartinm/ps3-worker/internal/preflight"
	"github.com/manumartinm/ps3-worker/internal/testsupport"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error        { return f(ctx) }
func (f pingFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type buckets map[string]bool

func (b buckets) BucketExists(_ context.Context, name string) (bool, error) {
	if name == "broken" {
		return false, errors.New("access denied")
	}
	return b[name], nil
}

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		path string
		pass bool
	}{
		{"existing dir", dir, true},
		{"missing", filepath.Join(dir, "nope"), false},
		{"regular file", file, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := preflight.CheckDirectoryAccess("test", tc.path)
			if result.Passed != tc.pass {
				t.Fatalf("expected passed=%v, got %+v", tc.pass, result)
			}
			if result.Detail == "" {
				t.Fatal("expected non-empty detail")
			}
		})
	}
}

func TestCheckBuckets(t *testing.T) {
	ctx := context.Background()
	if r := preflight.CheckBuckets(ctx, buckets{"pdfs": true, "parquets": true}, "pdfs", "parquets"); !r.Passed {
		t.Fatalf("expected pass, got %+v", r)
	}
	r := preflight.CheckBuckets(ctx, buckets{"pdfs": true}, "pdfs", "parquets")
	if r.Passed || !strings.Contains(r.Detail, "parquets") {
		t.Fatalf("expected missing bucket reported, got %+v", r)
	}
	if r := preflight.CheckBuckets(ctx, buckets{}, "broken"); r.Passed || !strings.Contains(r.Detail, "access denied") {
		t.Fatalf("expected error detail, got %+v", r)
	}
	if r := preflight.CheckBuckets(ctx, nil, "pdfs"); !r.Skipped {
		t.Fatalf("expected skipped without probe, got %+v", r)
	}
}

func TestRemoteChecks(t *testing.T) {
	ctx := context.Background()
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })
	slow := pingFunc(func(context.Context) error { return context.DeadlineExceeded })

	if r := preflight.CheckTaskStore(ctx, "mongo", ok); !r.Passed || r.Name != "Task store (mongo)" {
		t.Fatalf("unexpected result %+v", r)
	}
	if r := preflight.CheckTaskStore(ctx, "sqlite", down); r.Passed || r.Detail != "connection refused" {
		t.Fatalf("unexpected result %+v", r)
	}
	if r := preflight.CheckLLM(ctx, "ollama", slow); r.Passed || !strings.Contains(r.Detail, "timed out") {
		t.Fatalf("unexpected result %+v", r)
	}
	if r := preflight.CheckBroker(ctx, ok); !r.Passed {
		t.Fatalf("unexpected result %+v", r)
	}
	if r := preflight.CheckBroker(ctx, nil); !r.Skipped {
		t.Fatalf("expected skipped broker check, got %+v", r)
	}
}

func TestRunAll(t *testing.T) {
	if preflight.RunAll(context.Background(), nil, preflight.Probes{}) != nil {
		t.Fatal("expected nil results for nil config")
	}

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	down := pingFunc(func(context.Context) error { return errors.New("ping failed") })
	results := preflight.RunAll(context.Background(), cfg, preflight.Probes{Store: down})

	var names []string
	for _, r := range results {
		names = append(names, r.Name)
	}
	want := "Work directory,State directory,Log directory,pdftoppm,Broker,Task store (sqlite),Artifact buckets,LLM (" + cfg.LLM.Provider + ")"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("unexpected check order\n got %s\nwant %s", got, want)
	}
	failed := preflight.Failed(results)
	if len(failed) != 1 || failed[0].Name != "Task store (sqlite)" {
		t.Fatalf("expected only the store check to fail, got %+v", failed)
	}
}
