// Package lifecycle records task status transitions in the task store.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/manumartinm/ps3-worker/internal/logging"
	"github.com/manumartinm/ps3-worker/internal/services"
	"github.com/manumartinm/ps3-worker/internal/taskstore"
)

// OutputRefs points at the artifacts of a task. ClassificationPath is
// persisted as parquet_path.
type OutputRefs struct {
	SourcePath         string
	ClassificationPath string
	ExplanationsPath   string
}

// Manager performs one atomic upsert per transition. Failures are logged
// and returned; the caller decides what to do with the message.
type Manager struct {
	store  taskstore.Store
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a Manager over store.
func NewManager(store taskstore.Store, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: logging.NewComponentLogger(logger, "lifecycle"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MarkProcessing moves the task to processing and stamps processing_started_at.
func (m *Manager) MarkProcessing(ctx context.Context, id string) error {
	return m.apply(ctx, id, "mark_processing", taskstore.Patch{Status: taskstore.StatusProcessing})
}

// RecordOutputPaths stores artifact references without changing status.
func (m *Manager) RecordOutputPaths(ctx context.Context, id string, refs OutputRefs) error {
	return m.apply(ctx, id, "record_outputs", taskstore.Patch{
		MinioPath:        refs.SourcePath,
		ParquetPath:      refs.ClassificationPath,
		ExplanationsPath: refs.ExplanationsPath,
	})
}

// MarkCompleted moves the task to completed and stamps completed_at.
func (m *Manager) MarkCompleted(ctx context.Context, id string, refs OutputRefs) error {
	return m.apply(ctx, id, "mark_completed", taskstore.Patch{
		Status:           taskstore.StatusCompleted,
		ParquetPath:      refs.ClassificationPath,
		ExplanationsPath: refs.ExplanationsPath,
	})
}

// MarkFailed moves the task to failed with message as error_message.
func (m *Manager) MarkFailed(ctx context.Context, id string, message string) error {
	if message == "" {
		message = "processing failed"
	}
	return m.apply(ctx, id, "mark_failed", taskstore.Patch{
		Status:       taskstore.StatusFailed,
		ErrorMessage: message,
	})
}

// Get returns the stored task.
func (m *Manager) Get(ctx context.Context, id string) (*taskstore.Task, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) apply(ctx context.Context, id, op string, patch taskstore.Patch) error {
	patch.At = m.now()
	if _, err := m.store.Apply(ctx, id, patch); err != nil {
		logger := logging.WithContext(services.WithTaskID(ctx, id), m.logger)
		if errors.Is(err, taskstore.ErrInvalidTransition) {
			logging.WarnWithContext(logger, "task status write refused", "status_transition_refused",
				logging.String("operation", op),
				logging.String("target_status", string(patch.Status)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the task already reached a terminal status"),
			)
			return err
		}
		logging.ErrorWithContext(logger, "task status write failed", "status_write_failed",
			logging.String("operation", op),
			logging.String("target_status", string(patch.Status)),
			logging.Error(err),
			logging.Alert("persistence"),
		)
		if !errors.Is(err, services.ErrPersistence) {
			err = services.Wrap(services.ErrPersistence, "persistence", op, id, err)
		}
		return err
	}
	return nil
}
