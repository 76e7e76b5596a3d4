package taskstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/manumartinm/ps3-worker/internal/config"
	"github.com/manumartinm/ps3-worker/internal/services"
)

// Status represents the lifecycle of a task.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts user input into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further status writes are accepted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrInvalidTransition is returned when a write would move a terminal task or
// send a processing task back to queued.
var ErrInvalidTransition = errors.New("invalid task status transition")

// blockedFrom lists the current statuses from which target may not be
// written. An empty target (a field-only update) is still refused on
// terminal tasks.
func blockedFrom(target Status) []Status {
	if target == StatusQueued {
		return []Status{StatusProcessing, StatusCompleted, StatusFailed}
	}
	return []Status{StatusCompleted, StatusFailed}
}

// CanTransition reports whether a task currently in from may be written with
// target. from == "" means the task does not exist yet.
func CanTransition(from, target Status) bool {
	for _, blocked := range blockedFrom(target) {
		if from == blocked {
			return false
		}
	}
	return true
}

// Task is the status document for one uploaded PDF.
type Task struct {
	ID                  string     `json:"id" bson:"id"`
	Filename            string     `json:"filename,omitempty" bson:"filename,omitempty"`
	MinioPath           string     `json:"minio_path,omitempty" bson:"minio_path,omitempty"`
	Status              Status     `json:"status" bson:"status"`
	CreatedAt           time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" bson:"updated_at"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty" bson:"processing_started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	ParquetPath         string     `json:"parquet_path,omitempty" bson:"parquet_path,omitempty"`
	ExplanationsPath    string     `json:"explanations_path,omitempty" bson:"explanations_path,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty" bson:"error_message,omitempty"`
}

// Patch describes one atomic write. Empty strings leave fields untouched.
// Status, when set, also stamps processing_started_at (processing) or
// completed_at (terminal) with At.
type Patch struct {
	Status           Status
	Filename         string
	MinioPath        string
	ParquetPath      string
	ExplanationsPath string
	ErrorMessage     string
	At               time.Time
}

func (p Patch) timestamp() time.Time {
	if p.At.IsZero() {
		return time.Now().UTC()
	}
	return p.At.UTC()
}

// ListOptions filters List results. Zero Limit returns every match.
type ListOptions struct {
	Statuses []Status
	Limit    int
}

// Store is implemented by the task document backends.
type Store interface {
	// Apply upserts id with patch. It fails with ErrInvalidTransition when
	// the current status forbids the write.
	Apply(ctx context.Context, id string, patch Patch) (*Task, error)
	// Get returns the task or an error wrapping services.ErrNotFound.
	Get(ctx context.Context, id string) (*Task, error)
	// List returns tasks ordered by most recent update first.
	List(ctx context.Context, opts ListOptions) ([]Task, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open connects to the backend selected by task_store.backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.TaskStore.Backend {
	case config.BackendMongo:
		return OpenMongo(ctx, MongoOptions{
			URI:        cfg.TaskStore.MongoURI,
			Database:   cfg.TaskStore.Database,
			Collection: cfg.TaskStore.Collection,
			Timeout:    cfg.StoreTimeout(),
		})
	case config.BackendSQLite:
		return OpenSQLite(ctx, cfg.TaskStore.SQLitePath)
	default:
		return nil, fmt.Errorf("%w: unknown task store backend %q", services.ErrConfiguration, cfg.TaskStore.Backend)
	}
}

func notFound(id string) error {
	return services.Wrap(services.ErrNotFound, "persistence", "get task", id, nil)
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: task id is required", services.ErrValidation)
	}
	return nil
}
