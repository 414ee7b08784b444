// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument parsing,
// flag binding, and validation. Command execution is delegated to handler
// functions in the handlers package.
package commands

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/spf13/cobra"

	"github.com/imamik/stackctl/cmd/stackctl/handlers"
)

// Root returns the root command for the stackctl CLI.
//
// Persistent flags select the state directory and ledger backend shared by
// every subcommand. Before any subcommand runs, a logr logger honoring -v is
// stored in the command context.
func Root() *cobra.Command {
	g := &handlers.Globals{}
	var verbosity int

	cmd := &cobra.Command{
		Use:           "stackctl",
		Short:         "Provision Hetzner Cloud resources as rollback-safe workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			log := newLogger(verbosity)
			cmd.SetContext(logr.NewContext(cmd.Context(), log))
		},
	}

	cmd.PersistentFlags().StringVar(&g.StateDir, "state-dir", handlers.DefaultStateDir, "Directory holding the ledger and audit log")
	cmd.PersistentFlags().StringVar(&g.LedgerBackend, "ledger-backend", handlers.BackendFile, "Ledger storage backend: file or badger")
	cmd.PersistentFlags().IntVarP(&verbosity, "verbose", "v", 0, "Log verbosity (0-2)")

	cmd.AddCommand(Apply(g))
	cmd.AddCommand(Audit(g))
	cmd.AddCommand(Ledger(g))
	cmd.AddCommand(Cleanup(g))
	cmd.AddCommand(Archive(g))
	cmd.AddCommand(Version())

	return cmd
}

// newLogger returns a logr.Logger printing key/value lines to stderr.
func newLogger(verbosity int) logr.Logger {
	return funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(os.Stderr, "%s: %s\n", prefix, args)
			return
		}
		fmt.Fprintln(os.Stderr, args)
	}, funcr.Options{Verbosity: verbosity})
}
