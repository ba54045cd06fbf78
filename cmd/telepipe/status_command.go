package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

type statusPayload struct {
	Running   bool            `json:"running"`
	StartedAt time.Time       `json:"started_at"`
	Pipelines []statusEntry   `json:"pipelines"`
	Warehouse warehouseCounts `json:"warehouse"`
}

type statusEntry struct {
	Pipeline string    `json:"pipeline"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"next_run"`
	InFlight bool      `json:"in_flight"`
	Rejected int64     `json:"rejected_triggers"`
}

type warehouseCounts struct {
	RawMessages  int64 `json:"raw_messages"`
	FactMessages int64 `json:"fact_messages"`
	Detections   int64 `json:"detections"`
	Channels     int64 `json:"channels"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			client := newAPIClient(cfg)
			var status statusPayload
			if err := client.get(cmd.Context(), "/api/status", &status); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running.")
				return nil
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Daemon running since %s\n\n", status.StartedAt.Local().Format("2006-01-02 15:04:05"))

			columns := []tableColumn{
				{header: "Pipeline"},
				{header: "Schedule"},
				{header: "Next Run"},
				{header: "In Flight"},
				{header: "Rejected", right: true},
			}
			rows := make([][]string, 0, len(status.Pipelines))
			for _, entry := range status.Pipelines {
				schedule := entry.Schedule
				if schedule == "" {
					schedule = "manual"
				}
				nextRun := "-"
				if !entry.NextRun.IsZero() {
					nextRun = entry.NextRun.Local().Format("2006-01-02 15:04:05")
				}
				inFlight := "no"
				if entry.InFlight {
					inFlight = "yes"
				}
				rows = append(rows, []string{
					entry.Pipeline,
					schedule,
					nextRun,
					inFlight,
					fmt.Sprintf("%d", entry.Rejected),
				})
			}
			fmt.Fprintln(out, renderTable(columns, rows))

			fmt.Fprintf(out, "\nWarehouse: %d raw messages, %d fact messages, %d detections, %d channels\n",
				status.Warehouse.RawMessages,
				status.Warehouse.FactMessages,
				status.Warehouse.Detections,
				status.Warehouse.Channels)
			return nil
		},
	}
}
