package preflight

import (
	"context"

	"github.com/manumartinm/ps3-worker/internal/config"
	"github.com/manumartinm/ps3-worker/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name    string
	Passed  bool
	Skipped bool
	Detail  string
}

// Pinger is satisfied by the task store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BucketChecker is satisfied by the S3 object store.
type BucketChecker interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

// HealthChecker is satisfied by the LLM client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Probes carries the live connections RunAll may use.
type Probes struct {
	Broker  func(ctx context.Context) error
	Store   Pinger
	Objects BucketChecker
	LLM     HealthChecker
}

// RunAll executes every check for cfg in a stable order.
func RunAll(ctx context.Context, cfg *config.Config, probes Probes) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		results = append(results, fromDependency(status))
	}
	results = append(results,
		CheckBroker(ctx, probes.Broker),
		CheckTaskStore(ctx, cfg.TaskStore.Backend, probes.Store),
		CheckBuckets(ctx, probes.Objects, cfg.Artifacts.PDFBucket, cfg.Artifacts.TableBucket),
		CheckLLM(ctx, cfg.LLM.Provider, probes.LLM),
	)
	return results
}

// Failed returns the results that did not pass and were not skipped.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Skipped {
			out = append(out, r)
		}
	}
	return out
}

func fromDependency(status deps.Status) Result {
	result := Result{Name: status.Name, Passed: status.Available, Detail: status.Detail}
	if status.Available {
		result.Detail = status.Path
	}
	if !status.Available && status.Optional {
		result.Skipped = true
	}
	return result
}
