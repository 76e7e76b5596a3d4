package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAcquisition   = errors.New("acquisition failure")
	ErrTransient     = errors.New("transient failure")
	ErrValidation    = errors.New("validation error")
	ErrSanityBound   = errors.New("sanity bound exceeded")
	ErrEmptyResult   = errors.New("empty result")
	ErrPersistence   = errors.New("persistence failure")
	ErrExternalTool  = errors.New("external tool error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
)

// markers lists sentinels in classification priority order.
var markers = []struct {
	err  error
	kind string
}{
	{ErrSanityBound, "sanity_bound"},
	{ErrEmptyResult, "empty_result"},
	{ErrAcquisition, "acquisition"},
	{ErrPersistence, "persistence"},
	{ErrValidation, "validation"},
	{ErrTransient, "transient"},
	{ErrExternalTool, "external_tool"},
	{ErrConfiguration, "configuration"},
	{ErrNotFound, "not_found"},
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureKind returns a short label for the first sentinel err carries, or
// "unknown".
func FailureKind(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range markers {
		if errors.Is(err, m.err) {
			return m.kind
		}
	}
	return "unknown"
}

// Details returns the human-readable message persisted for a failed task.
func Details(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "task failed"
	}
	return msg
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
