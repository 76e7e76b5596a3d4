package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/manumartinm/ps3-worker/internal/config"
	"github.com/manumartinm/ps3-worker/internal/taskstore"
)

// MustOpenTaskStore opens the SQLite ledger for tests and registers cleanup.
func MustOpenTaskStore(t testing.TB, cfg *config.Config) *taskstore.SQLiteStore {
	t.Helper()

	store, err := taskstore.OpenSQLite(context.Background(), cfg.TaskStore.SQLitePath)
	if err != nil {
		t.Fatalf("taskstore.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close(context.Background())
	})
	return store
}

// SeedTask writes a task with the given status for tests.
func SeedTask(t testing.TB, store taskstore.Store, id string, status taskstore.Status) *taskstore.Task {
	t.Helper()

	task, err := store.Apply(context.Background(), id, taskstore.Patch{Status: status, At: time.Now().UTC()})
	if err != nil {
		t.Fatalf("store.Apply: %v", err)
	}
	return task
}
