package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const (
	remoteTimeout = 10 * time.Second
	llmTimeout    = 30 * time.Second
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckBroker dials the broker once through probe.
func CheckBroker(ctx context.Context, probe func(context.Context) error) Result {
	const name = "Broker"
	if probe == nil {
		return skipped(name)
	}
	checkCtx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	if err := probe(checkCtx); err != nil {
		return Result{Name: name, Detail: summarize(err)}
	}
	return Result{Name: name, Passed: true, Detail: "queue declared"}
}

// CheckTaskStore pings the task document store.
func CheckTaskStore(ctx context.Context, backend string, store Pinger) Result {
	name := "Task store"
	if backend != "" {
		name = fmt.Sprintf("Task store (%s)", backend)
	}
	if store == nil {
		return skipped(name)
	}
	checkCtx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()
	if err := store.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: summarize(err)}
	}
	return Result{Name: name, Passed: true, Detail: "reachable"}
}

// CheckBuckets verifies that every named bucket exists.
func CheckBuckets(ctx context.Context, objects BucketChecker, buckets ...string) Result {
	const name = "Artifact buckets"
	if objects == nil {
		return skipped(name)
	}
	checkCtx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	var missing []string
	for _, bucket := range buckets {
		if strings.TrimSpace(bucket) == "" {
			continue
		}
		ok, err := objects.BucketExists(checkCtx, bucket)
		if err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s: %s", bucket, summarize(err))}
		}
		if !ok {
			missing = append(missing, bucket)
		}
	}
	if len(missing) > 0 {
		return Result{Name: name, Detail: "missing: " + strings.Join(missing, ", ")}
	}
	return Result{Name: name, Passed: true, Detail: strings.Join(buckets, ", ")}
}

// CheckLLM verifies that the provider answers a minimal structured request.
// It uses a single attempt with a 30-second timeout.
func CheckLLM(ctx context.Context, provider string, client HealthChecker) Result {
	name := "LLM"
	if provider != "" {
		name = fmt.Sprintf("LLM (%s)", provider)
	}
	if client == nil {
		return skipped(name)
	}
	checkCtx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()
	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarize(err)}
	}
	return Result{Name: name, Passed: true, Detail: "API reachable"}
}

func skipped(name string) Result {
	return Result{Name: name, Skipped: true, Detail: "not checked"}
}

func summarize(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out (service unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out (service unreachable)"
	}
	return err.Error()
}
