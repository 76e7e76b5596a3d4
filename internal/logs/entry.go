package logs

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/manumartinm/ps3-worker/internal/logging"
)

// Entry is one decoded worker.log record.
type Entry struct {
	Time    time.Time
	Level   string
	Message string
	TaskID  string
	Stage   string
	Attrs   map[string]any
}

// ParseEntry decodes a JSON log line. ok is false for lines that are not
// JSON objects, such as panics written straight to the file.
func ParseEntry(line string) (Entry, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{}, false
	}
	entry := Entry{Attrs: map[string]any{}}
	for key, value := range raw {
		switch key {
		case "time":
			if s, ok := value.(string); ok {
				entry.Time, _ = time.Parse(time.RFC3339Nano, s)
			}
		case "level":
			entry.Level, _ = value.(string)
		case "msg":
			entry.Message, _ = value.(string)
		case logging.FieldTaskID:
			entry.TaskID, _ = value.(string)
		case logging.FieldStage:
			entry.Stage, _ = value.(string)
		default:
			entry.Attrs[key] = value
		}
	}
	return entry, true
}

// Filter keeps lines that belong to taskID. Unparseable lines are dropped
// when a task filter is set and kept otherwise.
func Filter(lines []string, taskID string) []string {
	if taskID == "" {
		return lines
	}
	out := lines[:0:0]
	for _, line := range lines {
		if entry, ok := ParseEntry(line); ok && entry.TaskID == taskID {
			out = append(out, line)
		}
	}
	return out
}

// Format renders a JSON line as "15:04:05 LEVEL [task/stage] message k=v".
// Lines that are not JSON are returned unchanged.
func Format(line string) string {
	entry, ok := ParseEntry(line)
	if !ok {
		return line
	}
	var b strings.Builder
	if !entry.Time.IsZero() {
		b.WriteString(entry.Time.Local().Format("15:04:05"))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%-5s", strings.ToUpper(entry.Level))
	if entry.TaskID != "" {
		b.WriteString(" [" + entry.TaskID)
		if entry.Stage != "" {
			b.WriteString("/" + entry.Stage)
		}
		b.WriteByte(']')
	}
	b.WriteString(" " + entry.Message)

	keys := make([]string, 0, len(entry.Attrs))
	for key := range entry.Attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%v", key, entry.Attrs[key])
	}
	return b.String()
}
