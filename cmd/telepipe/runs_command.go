package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"telepipe/internal/runs"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	var (
		pipelineFilter string
		limit          int
		showStages     bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			store, err := runs.Open(cfg.RunsPath())
			if err != nil {
				return fmt.Errorf("open run history: %w", err)
			}
			defer store.Close()

			list, err := store.ListRuns(cmd.Context(), runs.Filter{
				Pipeline: strings.TrimSpace(pipelineFilter),
				Limit:    limit,
			})
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No runs recorded yet.")
				return nil
			}

			columns := []tableColumn{
				{header: "Triggered"},
				{header: "Pipeline"},
				{header: "Status"},
				{header: "Duration", right: true},
				{header: "Failed Stage"},
				{header: "Run ID"},
			}
			rows := make([][]string, 0, len(list))
			for _, run := range list {
				rows = append(rows, []string{
					run.TriggerTime.Local().Format("2006-01-02 15:04:05"),
					run.Pipeline,
					string(run.Status),
					formatRunDuration(run.Duration()),
					run.FailedStage,
					shortRunID(run.ID),
				})
			}
			fmt.Fprintln(out, renderTable(columns, rows))

			if showStages {
				for _, run := range list {
					printRunStages(out, run)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&pipelineFilter, "pipeline", "p", "", "Only show runs for this pipeline")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	cmd.Flags().BoolVar(&showStages, "stages", false, "Show per-stage outcomes for each run")
	return cmd
}

func printRunStages(out io.Writer, run *runs.Run) {
	fmt.Fprintf(out, "\nRun %s (%s, %s):\n", shortRunID(run.ID), run.Pipeline, run.Status)
	columns := []tableColumn{
		{header: "Stage"},
		{header: "Status"},
		{header: "Attempts", right: true},
		{header: "Detail"},
	}
	rows := make([][]string, 0, len(run.Executions))
	for _, exec := range run.Executions {
		detail := exec.SkipReason
		if exec.ErrorMessage != "" {
			detail = exec.ErrorMessage
		}
		rows = append(rows, []string{
			exec.Stage,
			string(exec.Status),
			fmt.Sprintf("%d", exec.AttemptCount),
			truncateDetail(detail, 60),
		})
	}
	fmt.Fprintln(out, renderTable(columns, rows))
}

func formatRunDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncateDetail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
