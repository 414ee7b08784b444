package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/stackctl/cmd/stackctl/handlers"
)

// Ledger returns the ledger command group.
func Ledger(g *handlers.Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and recover workflow transactions",
	}
	cmd.AddCommand(ledgerShow(g))
	cmd.AddCommand(ledgerRecover(g))
	return cmd
}

func ledgerShow(g *handlers.Globals) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show TXID",
		Short: "Print a transaction and its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.LedgerShow(cmd.Context(), g, args[0], jsonOutput, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the transaction as JSON")
	return cmd
}

func ledgerRecover(g *handlers.Globals) *cobra.Command {
	var location string

	cmd := &cobra.Command{
		Use:   "recover [TXID]",
		Short: "Roll back transactions left in progress",
		Long: `Recover rolls back transactions that never finished, typically because
stackctl was killed mid-run. Without TXID every pending transaction is
recovered. Entries compensated before the interruption are skipped.

Reads HCLOUD_TOKEN from the environment.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var txID string
			if len(args) == 1 {
				txID = args[0]
			}
			return handlers.LedgerRecover(cmd.Context(), g, txID, location, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&location, "location", "", "Hetzner location of the resources (default nbg1)")
	return cmd
}
