package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/stackctl/cmd/stackctl/handlers"
)

// Cleanup returns the cleanup command.
//
// Cleanup is the manual remediation path when a rollback could not finish or
// the ledger is lost: it deletes everything carrying the run's labels.
func Cleanup(g *handlers.Globals) *cobra.Command {
	var correlationID string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete all resources created by one workflow run",
		Long: `Cleanup deletes every firewall, placement group, SSH key and network
labelled with the given correlation id, whether or not the ledger still
knows about it.

Reads HCLOUD_TOKEN from the environment.

Example:
  stackctl cleanup --correlation-id 3f0c2a9e-...

WARNING: This operation is irreversible.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Cleanup(cmd.Context(), g, correlationID, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation id of the run (required)")
	_ = cmd.MarkFlagRequired("correlation-id")

	return cmd
}
