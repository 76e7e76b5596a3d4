// Package logs reads the worker's JSON log file for the CLI.
//
// Tail returns the last N lines or everything past a byte offset and can
// wait for new lines, which is how `ps3worker logs --follow` polls the file.
// Entry parses one JSON record so callers can filter by task and print a
// compact line instead of raw JSON.
package logs
