package main

import (
	"github.com/spf13/cobra"

	"github.com/manumartinm/ps3-worker/internal/daemonrun"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts daemonrun.Options

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the worker in the foreground",
		Long: "Consume PDF descriptors from the broker, process each one through the odds-path pipeline " +
			"and serve the progress API until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&opts.Development, "dev", false, "Use console log output")
	cmd.Flags().BoolVar(&opts.SkipPreflight, "skip-preflight", false, "Do not probe dependencies before consuming")
	return cmd
}
