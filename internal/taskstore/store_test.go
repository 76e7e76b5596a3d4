package taskstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/manumartinm/ps3-worker/internal/services"
	"github.com/manumartinm/ps3-worker/internal/taskstore"
)

func openStore(t *testing.T) *taskstore.SQLiteStore {
	t.Helper()
	store, err := taskstore.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state", "tasks.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func TestApplyLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	start := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	task, err := store.Apply(ctx, "task-1", taskstore.Patch{
		Status:    taskstore.StatusProcessing,
		Filename:  "10.1000-abc.pdf",
		MinioPath: "task-1/pdfs/10.1000-abc.pdf",
		At:        start,
	})
	if err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if task.Status != taskstore.StatusProcessing || task.ProcessingStartedAt == nil || !task.ProcessingStartedAt.Equal(start) {
		t.Fatalf("unexpected processing task %+v", task)
	}
	if task.CompletedAt != nil {
		t.Fatal("completed_at must stay unset while processing")
	}

	if _, err := store.Apply(ctx, "task-1", taskstore.Patch{
		ParquetPath:      "parquets/task-1/parquets/odds_path_10.1000-abc.parquet",
		ExplanationsPath: "parquets/task-1/parquets/explanations_10.1000-abc.parquet",
		At:               start.Add(time.Minute),
	}); err != nil {
		t.Fatalf("record outputs: %v", err)
	}

	done, err := store.Apply(ctx, "task-1", taskstore.Patch{Status: taskstore.StatusCompleted, At: start.Add(2 * time.Minute)})
	if err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if done.Status != taskstore.StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("unexpected completed task %+v", done)
	}
	if done.MinioPath != "task-1/pdfs/10.1000-abc.pdf" || done.ParquetPath == "" || done.ExplanationsPath == "" {
		t.Fatalf("earlier fields must survive later patches: %+v", done)
	}
	if !done.ProcessingStartedAt.Equal(start) || !done.UpdatedAt.Equal(start.Add(2*time.Minute)) {
		t.Fatalf("unexpected timestamps %+v", done)
	}
}

func TestTerminalTasksRefuseWrites(t *testing.T) {
	tests := []struct {
		name     string
		terminal taskstore.Status
		patch    taskstore.Patch
	}{
		{"completed to failed", taskstore.StatusCompleted, taskstore.Patch{Status: taskstore.StatusFailed, ErrorMessage: "late"}},
		{"failed to processing", taskstore.StatusFailed, taskstore.Patch{Status: taskstore.StatusProcessing}},
		{"completed field update", taskstore.StatusCompleted, taskstore.Patch{ParquetPath: "other"}},
		{"failed to completed", taskstore.StatusFailed, taskstore.Patch{Status: taskstore.StatusCompleted}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := openStore(t)
			ctx := context.Background()
			if _, err := store.Apply(ctx, "t", taskstore.Patch{Status: tt.terminal, ErrorMessage: "original"}); err != nil {
				t.Fatalf("seed: %v", err)
			}
			_, err := store.Apply(ctx, "t", tt.patch)
			if !errors.Is(err, taskstore.ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
			task, err := store.Get(ctx, "t")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if task.Status != tt.terminal || task.ErrorMessage != "original" {
				t.Fatalf("terminal task was modified: %+v", task)
			}
		})
	}
}

func TestProcessingCannotReturnToQueued(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if _, err := store.Apply(ctx, "t", taskstore.Patch{Status: taskstore.StatusProcessing}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Apply(ctx, "t", taskstore.Patch{Status: taskstore.StatusQueued}); !errors.Is(err, taskstore.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := store.Apply(ctx, "t", taskstore.Patch{Status: taskstore.StatusProcessing}); err != nil {
		t.Fatalf("redelivered task should re-enter processing: %v", err)
	}
}

func TestFieldOnlyPatchCreatesQueuedTask(t *testing.T) {
	store := openStore(t)
	task, err := store.Apply(context.Background(), "fresh", taskstore.Patch{MinioPath: "fresh/pdfs/a.pdf"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if task.Status != taskstore.StatusQueued || task.CreatedAt.IsZero() {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestGetMissingTask(t *testing.T) {
	store := openStore(t)
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestApplyRequiresID(t *testing.T) {
	store := openStore(t)
	if _, err := store.Apply(context.Background(), " ", taskstore.Patch{}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	seed := []struct {
		id     string
		status taskstore.Status
		offset time.Duration
	}{
		{"a", taskstore.StatusCompleted, time.Second},
		{"b", taskstore.StatusFailed, 2 * time.Second},
		{"c", taskstore.StatusProcessing, 1500 * time.Millisecond},
		{"d", taskstore.StatusCompleted, 3 * time.Second},
	}
	for _, s := range seed {
		if _, err := store.Apply(ctx, s.id, taskstore.Patch{Status: s.status, At: base.Add(s.offset)}); err != nil {
			t.Fatalf("seed %s: %v", s.id, err)
		}
	}

	all, err := store.List(ctx, taskstore.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids string
	for _, task := range all {
		ids += task.ID
	}
	if ids != "dbca" {
		t.Fatalf("expected newest first, got %q", ids)
	}

	completed, err := store.List(ctx, taskstore.ListOptions{Statuses: []taskstore.Status{taskstore.StatusCompleted}, Limit: 1})
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != "d" {
		t.Fatalf("unexpected filtered list %+v", completed)
	}
}

func TestSchemaReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	ctx := context.Background()
	first, err := taskstore.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := first.Apply(ctx, "keep", taskstore.Patch{Status: taskstore.StatusProcessing}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	_ = first.Close(ctx)

	second, err := taskstore.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close(ctx)
	if _, err := second.Get(ctx, "keep"); err != nil {
		t.Fatalf("expected task to survive reopen: %v", err)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to taskstore.Status
		want     bool
	}{
		{"", taskstore.StatusProcessing, true},
		{taskstore.StatusQueued, taskstore.StatusProcessing, true},
		{taskstore.StatusProcessing, taskstore.StatusCompleted, true},
		{taskstore.StatusProcessing, taskstore.StatusFailed, true},
		{taskstore.StatusProcessing, taskstore.StatusQueued, false},
		{taskstore.StatusCompleted, taskstore.StatusFailed, false},
		{taskstore.StatusFailed, "", false},
	}
	for _, tt := range tests {
		if got := taskstore.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := taskstore.ParseStatus(" Completed "); !ok || status != taskstore.StatusCompleted {
		t.Fatalf("unexpected parse result %q %v", status, ok)
	}
	if _, ok := taskstore.ParseStatus("review"); ok {
		t.Fatal("unknown status must not parse")
	}
}
