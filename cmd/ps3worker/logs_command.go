package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/manumartinm/ps3-worker/internal/logging"
	"github.com/manumartinm/ps3-worker/internal/logs"
)

const followWait = 2 * time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var raw bool
	var taskID string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the worker log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := logging.FilePath(cfg)
			out := cmd.OutOrStdout()
			taskID = strings.TrimSpace(taskID)

			emit := func(batch []string) {
				for _, line := range logs.Filter(batch, taskID) {
					if !raw {
						line = logs.Format(line)
					}
					fmt.Fprintln(out, line)
				}
			}

			limit := lines
			if taskID != "" && limit > 0 {
				// The filter runs after the tail, so read a wider window.
				limit *= 10
			}
			result, err := logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: -1, Limit: limit})
			if err != nil {
				return err
			}
			emit(result.Lines)
			if !follow {
				return nil
			}

			offset := result.Offset
			for {
				next, err := logs.Tail(cmd.Context(), path, logs.TailOptions{Offset: offset, Follow: true, Wait: followWait})
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				emit(next.Lines)
				offset = next.Offset
			}
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print JSON records unchanged")
	cmd.Flags().StringVar(&taskID, "task", "", "Only show records for this task id")
	return cmd
}
