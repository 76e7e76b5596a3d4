package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/manumartinm/ps3-worker/internal/artifacts"
	"github.com/manumartinm/ps3-worker/internal/config"
	"github.com/manumartinm/ps3-worker/internal/daemonrun"
	"github.com/manumartinm/ps3-worker/internal/logging"
	"github.com/manumartinm/ps3-worker/internal/preflight"
	"github.com/manumartinm/ps3-worker/internal/services/llm"
	"github.com/manumartinm/ps3-worker/internal/taskstore"
)

// openFailure stands in for a dependency that could not be opened so the
// report shows the connection error instead of skipping the check.
type openFailure struct{ err error }

func (f openFailure) Ping(context.Context) error { return f.err }

func (f openFailure) BucketExists(context.Context, string) (bool, error) { return false, f.err }

func (f openFailure) HealthCheck(context.Context) error { return f.err }

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	var withLLM bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, binaries and external services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			probes, closeProbes := openProbes(runCtx, cfg, withLLM)
			defer closeProbes()
			results := preflight.RunAll(runCtx, cfg, probes)

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, result := range results {
				fmt.Fprintln(out, renderStatusLine(result.Name, resultKind(result), result.Detail, colorize))
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%s failed", countLabel(len(failed), "check"))
			}
			fmt.Fprintln(out, "All checks passed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&withLLM, "llm", false, "Also send a probe request to the LLM provider")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall time limit for the checks")
	return cmd
}

func openProbes(ctx context.Context, cfg *config.Config, withLLM bool) (preflight.Probes, func()) {
	probes := preflight.Probes{Broker: daemonrun.BrokerProbe(cfg)}
	closers := []func(){}

	if store, err := taskstore.Open(ctx, cfg); err != nil {
		probes.Store = openFailure{err}
	} else {
		probes.Store = store
		closers = append(closers, func() { _ = store.Close(context.WithoutCancel(ctx)) })
	}

	if objects, err := artifacts.NewS3Objects(ctx, cfg.Artifacts); err != nil {
		probes.Objects = openFailure{err}
	} else {
		probes.Objects = objects
	}

	if withLLM {
		client, err := llm.NewClient(daemonrun.LLMConfig(cfg), llm.WithLogger(logging.NewNop()))
		if err != nil {
			probes.LLM = openFailure{err}
		} else {
			probes.LLM = client
		}
	}

	return probes, func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}
}

func resultKind(result preflight.Result) statusKind {
	switch {
	case result.Skipped:
		return statusInfo
	case result.Passed:
		return statusOK
	default:
		return statusError
	}
}
