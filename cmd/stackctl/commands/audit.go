package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/stackctl/cmd/stackctl/handlers"
)

// Audit returns the audit command group.
func Audit(g *handlers.Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}
	cmd.AddCommand(auditQuery(g))
	cmd.AddCommand(auditVerify(g))
	return cmd
}

func auditQuery(g *handlers.Globals) *cobra.Command {
	var (
		correlationID string
		logPath       string
		jsonOutput    bool
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print the events of one workflow run in order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.AuditQuery(cmd.Context(), g, handlers.AuditQueryOptions{
				CorrelationID: correlationID,
				LogPath:       logPath,
				JSON:          jsonOutput,
				Out:           cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation id of the run (required)")
	cmd.Flags().StringVar(&logPath, "log", "", "Audit log path (default <state-dir>/audit.jsonl)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print events as JSON lines")
	_ = cmd.MarkFlagRequired("correlation-id")

	return cmd
}

func auditVerify(g *handlers.Globals) *cobra.Command {
	var logPath string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the hash chain of the audit log",
		Long: `Verify recomputes the hash chain of the audit log and reports the
first record that was altered, removed or reordered.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.AuditVerify(cmd.Context(), g, logPath, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&logPath, "log", "", "Audit log path (default <state-dir>/audit.jsonl)")
	return cmd
}
