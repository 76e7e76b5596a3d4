// Package staging manages the per-task directories under paths.work_dir.
//
// Every task downloads its PDF and renders page images into
// work_dir/<task_id>, created by Claim with a marker file inside; the runner
// removes the directory when the task ends. A crash or a kill -9 leaves it
// behind, so the daemon sweeps old claimed directories at startup and the CLI
// can list or clean them by hand. Anything without the marker, or whose name
// is not a task id, is never listed or removed.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/manumartinm/ps3-worker/internal/logging"
)

// MarkerFile is written into every claimed task directory.
const MarkerFile = ".ps3-task"

// DefaultStaleAge is how old a claimed directory must be before a sweep
// treats it as abandoned. Workers sharing a work dir keep their live
// directories younger than this.
const DefaultStaleAge = 6 * time.Hour

// taskIDPattern matches the task_id accepted by the descriptor schema.
var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Claim creates work_dir/<taskID> with its marker file and returns the path.
func Claim(workDir, taskID string) (string, error) {
	workDir = strings.TrimSpace(workDir)
	if workDir == "" {
		return "", errors.New("work dir is empty")
	}
	if !taskIDPattern.MatchString(taskID) {
		return "", fmt.Errorf("invalid task id %q", taskID)
	}
	dir := filepath.Join(workDir, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create task dir: %w", err)
	}
	marker := fmt.Sprintf("%s\n%s\n", taskID, time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(filepath.Join(dir, MarkerFile), []byte(marker), 0o644); err != nil {
		return "", fmt.Errorf("write task marker: %w", err)
	}
	return dir, nil
}

// DirInfo describes one task directory.
type DirInfo struct {
	TaskID  string
	Path    string
	ModTime time.Time
	Size    int64
}

// CleanupError pairs a directory with the error that kept it on disk.
type CleanupError struct {
	Path string
	Err  error
}

// CleanResult reports what a sweep removed.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// List returns the claimed task directories in workDir, oldest first. A
// missing work dir yields an empty list.
func List(workDir string) ([]DirInfo, error) {
	workDir = strings.TrimSpace(workDir)
	if workDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(workDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	dirs := make([]DirInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !taskIDPattern.MatchString(entry.Name()) {
			continue
		}
		path := filepath.Join(workDir, entry.Name())
		if !claimed(path) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, DirInfo{
			TaskID:  entry.Name(),
			Path:    path,
			ModTime: info.ModTime(),
			Size:    dirSize(path),
		})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].ModTime.Before(dirs[j].ModTime) })
	return dirs, nil
}

// CleanStale removes claimed task directories last modified more than maxAge
// ago. maxAge <= 0 removes every claimed directory regardless of age, which is
// only safe when no worker is using the work dir.
func CleanStale(ctx context.Context, workDir string, maxAge time.Duration, logger *slog.Logger) CleanResult {
	var result CleanResult
	dirs, err := List(workDir)
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: workDir, Err: err})
		return result
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	cutoff := time.Now().Add(-maxAge)
	for _, dir := range dirs {
		if ctx.Err() != nil {
			break
		}
		if maxAge > 0 && !dir.ModTime.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir.Path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dir.Path, Err: err})
			logger.Warn("failed to remove stale task directory",
				logging.String("path", dir.Path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "work_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "check paths.work_dir permissions"),
			)
			continue
		}
		result.Removed = append(result.Removed, dir.Path)
		logger.Info("removed stale task directory",
			logging.String(logging.FieldTaskID, dir.TaskID),
			logging.Duration("age", time.Since(dir.ModTime)),
			logging.String(logging.FieldEventType, "work_cleanup"),
		)
	}
	return result
}

func claimed(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, MarkerFile))
	return err == nil && info.Mode().IsRegular()
}

func dirSize(path string) int64 {
	var size int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size
}
