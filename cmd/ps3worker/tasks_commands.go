package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/manumartinm/ps3-worker/internal/taskstore"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect the task ledger",
	}
	tasksCmd.AddCommand(newTasksListCommand(ctx))
	tasksCmd.AddCommand(newTasksShowCommand(ctx))
	return tasksCmd
}

func newTasksListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatusFilters(statusFlags)
			if err != nil {
				return err
			}
			var tasks []taskstore.Task
			err = withTaskStore(cmd.Context(), ctx, func(store taskstore.Store) error {
				var listErr error
				tasks, listErr = store.List(cmd.Context(), taskstore.ListOptions{Statuses: statuses, Limit: limit})
				return listErr
			})
			if err != nil {
				return err
			}
			if asJSON {
				if tasks == nil {
					tasks = []taskstore.Task{}
				}
				return writeJSON(cmd, tasks)
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No tasks")
				return nil
			}
			fmt.Fprintln(out, renderTaskTable(tasks))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of tasks to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newTasksShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var task *taskstore.Task
			err := withTaskStore(cmd.Context(), ctx, func(store taskstore.Store) error {
				var getErr error
				task, getErr = store.Get(cmd.Context(), strings.TrimSpace(args[0]))
				return getErr
			})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, task)
			}
			out := cmd.OutOrStdout()
			for _, line := range describeTask(task) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func withTaskStore(cmdCtx context.Context, ctx *commandContext, fn func(taskstore.Store) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	store, err := taskstore.Open(cmdCtx, cfg)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close(context.WithoutCancel(cmdCtx))
	return fn(store)
}

func parseStatusFilters(values []string) ([]taskstore.Status, error) {
	statuses := make([]taskstore.Status, 0, len(values))
	for _, value := range values {
		status, ok := taskstore.ParseStatus(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func renderTaskTable(tasks []taskstore.Task) string {
	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, []string{
			task.ID,
			string(task.Status),
			task.Filename,
			formatTimestamp(task.UpdatedAt),
			truncate(task.ErrorMessage, 48),
		})
	}
	return renderTable(
		[]string{"ID", "Status", "File", "Updated", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}

func describeTask(task *taskstore.Task) []string {
	lines := []string{
		detailLine("ID", task.ID),
		detailLine("Status", string(task.Status)),
		detailLine("File", valueOrDash(task.Filename)),
		detailLine("Source", valueOrDash(task.MinioPath)),
		detailLine("Created", formatTimestamp(task.CreatedAt)),
		detailLine("Updated", formatTimestamp(task.UpdatedAt)),
	}
	if task.ProcessingStartedAt != nil {
		lines = append(lines, detailLine("Started", formatTimestamp(*task.ProcessingStartedAt)))
	}
	if task.CompletedAt != nil {
		lines = append(lines, detailLine("Finished", formatTimestamp(*task.CompletedAt)))
		if task.ProcessingStartedAt != nil {
			lines = append(lines, detailLine("Duration", task.CompletedAt.Sub(*task.ProcessingStartedAt).Round(time.Second).String()))
		}
	}
	if task.ParquetPath != "" {
		lines = append(lines, detailLine("Odds path", task.ParquetPath))
	}
	if task.ExplanationsPath != "" {
		lines = append(lines, detailLine("Explanations", task.ExplanationsPath))
	}
	if task.ErrorMessage != "" {
		lines = append(lines, detailLine("Error", task.ErrorMessage))
	}
	return lines
}

func detailLine(label, value string) string {
	return fmt.Sprintf("%-13s %s", label+":", value)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func valueOrDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max-1]) + "…"
}

// countLabel pluralizes noun for n.
func countLabel(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	if strings.HasSuffix(noun, "y") {
		return strconv.Itoa(n) + " " + strings.TrimSuffix(noun, "y") + "ies"
	}
	return strconv.Itoa(n) + " " + noun + "s"
}
