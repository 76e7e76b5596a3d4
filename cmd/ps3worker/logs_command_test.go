package main

import (
	"os"
	"strings"
	"testing"

	"github.com/manumartinm/ps3-worker/internal/logging"
)

func TestLogsFiltersByTask(t *testing.T) {
	cfg, path := newTestConfigFile(t)
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := strings.Join([]string{
		`{"time":"2025-03-01T12:00:00Z","level":"INFO","msg":"task received","task_id":"task-1"}`,
		`{"time":"2025-03-01T12:00:01Z","level":"INFO","msg":"task received","task_id":"task-2"}`,
		`{"time":"2025-03-01T12:00:02Z","level":"ERROR","msg":"stage failed","task_id":"task-1","stage":"upload"}`,
	}, "\n") + "\n"
	if err := os.WriteFile(logging.FilePath(cfg), []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	out, _, err := runCLI(t, []string{"logs", "--task", "task-1"}, path)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "[task-1/upload] stage failed")
	if strings.Contains(out, "task-2") {
		t.Fatalf("unexpected record for another task:\n%s", out)
	}

	out, _, err = runCLI(t, []string{"logs", "--raw", "-n", "1"}, path)
	if err != nil {
		t.Fatalf("logs --raw: %v", err)
	}
	if strings.TrimSpace(out) != strings.Split(strings.TrimSpace(content), "\n")[2] {
		t.Fatalf("expected the last raw record, got %q", out)
	}
}
