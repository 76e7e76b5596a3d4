package api

import (
	"context"

	"github.com/manumartinm/ps3-worker/internal/progress"
	"github.com/manumartinm/ps3-worker/internal/taskstore"
)

// Check is the outcome of one dependency probe.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// HealthFunc runs dependency probes for /healthz.
type HealthFunc func(ctx context.Context) []Check

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status string  `json:"status"`
	Checks []Check `json:"checks,omitempty"`
}

// TaskListResponse wraps GET /tasks.
type TaskListResponse struct {
	Items []taskstore.Task `json:"items"`
}

// TaskResponse wraps GET /tasks/:id.
type TaskResponse struct {
	Task taskstore.Task `json:"task"`
}

// HistoryResponse wraps GET /tasks/:id/history.
type HistoryResponse struct {
	TaskID string           `json:"task_id"`
	Events []progress.Event `json:"events"`
}

// ErrorResponse is returned for every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}
