package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/manumartinm/ps3-worker/internal/staging"
)

func newWorkCommand(ctx *commandContext) *cobra.Command {
	workCmd := &cobra.Command{
		Use:   "work",
		Short: "Inspect or clean leftover task directories",
	}
	workCmd.AddCommand(newWorkListCommand(ctx))
	workCmd.AddCommand(newWorkCleanCommand(ctx))
	return workCmd
}

func newWorkListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List task directories under paths.work_dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dirs, err := staging.List(cfg.Paths.WorkDir)
			if err != nil {
				return fmt.Errorf("list work dir: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(dirs) == 0 {
				fmt.Fprintf(out, "No task directories in %s\n", cfg.Paths.WorkDir)
				return nil
			}
			rows := make([][]string, 0, len(dirs))
			var total int64
			for _, dir := range dirs {
				total += dir.Size
				rows = append(rows, []string{dir.TaskID, humanize.Bytes(uint64(dir.Size)), humanize.Time(dir.ModTime)})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Task", "Size", "Modified"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft},
			))
			fmt.Fprintf(out, "%s, %s\n", countLabel(len(dirs), "directory"), humanize.Bytes(uint64(total)))
			return nil
		},
	}
}

func newWorkCleanCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove task directories older than --older-than",
		Long: "Remove leftover task directories. The default age keeps directories a running " +
			"worker may still be using; pass --older-than 0 only when the worker is stopped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			result := staging.CleanStale(cmd.Context(), cfg.Paths.WorkDir, olderThan, nil)
			out := cmd.OutOrStdout()
			for _, path := range result.Removed {
				fmt.Fprintf(out, "removed %s\n", path)
			}
			for _, failure := range result.Errors {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed %s: %v\n", failure.Path, failure.Err)
			}
			if len(result.Errors) > 0 {
				return fmt.Errorf("%s could not be removed", countLabel(len(result.Errors), "directory"))
			}
			fmt.Fprintf(out, "Removed %s\n", countLabel(len(result.Removed), "directory"))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", staging.DefaultStaleAge, "Minimum age of directories to remove")
	return cmd
}
