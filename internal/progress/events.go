package progress

import "time"

// Progress publishes a stage transition with a 0-100 completion figure.
func Progress(pub Publisher, taskID, stage string, percent int, message string) {
	if pub == nil {
		return
	}
	pub.Publish(taskID, KindProgress, map[string]any{
		"stage":    stage,
		"progress": percent,
		"message":  message,
	})
}

// Status publishes a task status change.
func Status(pub Publisher, taskID, status, message string) {
	if pub == nil {
		return
	}
	pub.Publish(taskID, KindStatus, map[string]any{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Error publishes a failure description.
func Error(pub Publisher, taskID, message, details string) {
	if pub == nil {
		return
	}
	data := map[string]any{"error": message}
	if details != "" {
		data["details"] = details
	}
	pub.Publish(taskID, KindError, data)
}

// Completion publishes the final result summary.
func Completion(pub Publisher, taskID string, summary map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(taskID, KindCompletion, summary)
}

// Terminal reports whether evt is the final status of a task's stream.
func Terminal(evt Event) bool {
	if evt.Kind != KindStatus {
		return false
	}
	status, _ := evt.Data["status"].(string)
	return status == "completed" || status == "failed"
}
