package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/stackctl/cmd/stackctl/handlers"
)

// Apply returns the apply command.
func Apply(g *handlers.Globals) *cobra.Command {
	var (
		files       []string
		parallel    int
		metricsFile string
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Run workflow files against Hetzner Cloud",
		Long: `Apply runs each workflow file as one transaction.

Steps run in order. Transient API errors are retried with exponential
backoff, and a circuit breaker per service stops calls to a failing
service. When a required step fails, every resource the run created is
deleted again in reverse order. Optional steps that fail are skipped.

Reads HCLOUD_TOKEN from the environment.

Example:
  stackctl apply -f network.yaml -f firewall.yaml --parallel 2`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Apply(cmd.Context(), g, handlers.ApplyOptions{
				Files:       files,
				Parallel:    parallel,
				MetricsFile: metricsFile,
				JSON:        jsonOutput,
				Out:         cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Workflow file (repeatable, required)")
	cmd.Flags().IntVar(&parallel, "parallel", 1, "Number of workflow files to run at once (0 = all)")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
