package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run [pipeline]",
		Short: "Trigger a pipeline run through the daemon",
		Long: "Asks the running telepiped daemon to execute a pipeline and waits for the result.\n" +
			"A run already in flight for the same pipeline is rejected, not queued.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			pipeline := ""
			if len(args) > 0 {
				pipeline = strings.TrimSpace(args[0])
			}

			client := newAPIClient(cfg)
			var resp struct {
				Pipeline string `json:"pipeline"`
				Status   string `json:"status"`
				Error    string `json:"error,omitempty"`
			}
			req := map[string]string{"pipeline": pipeline}
			if err := client.post(cmd.Context(), "/api/trigger", req, &resp); err != nil {
				var statusErr *statusError
				if errors.As(err, &statusErr) && statusErr.Code == http.StatusConflict {
					return fmt.Errorf("a run for this pipeline is already in flight")
				}
				return err
			}

			out := cmd.OutOrStdout()
			switch resp.Status {
			case "completed":
				fmt.Fprintf(out, "Pipeline %s completed\n", resp.Pipeline)
				return nil
			case "failed":
				fmt.Fprintf(out, "Pipeline %s failed: %s\n", resp.Pipeline, resp.Error)
				return fmt.Errorf("pipeline run failed")
			default:
				fmt.Fprintf(out, "Pipeline %s: %s\n", resp.Pipeline, resp.Status)
				return nil
			}
		},
	}
}
