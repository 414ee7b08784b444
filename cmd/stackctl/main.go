// Package main is the entry point for the stackctl CLI.
//
// stackctl provisions Hetzner Cloud resources from declarative workflow
// files. Every run is a transaction: created resources are recorded in a
// durable ledger and removed again in reverse order when a required step
// fails. Each run leaves a hash-chained audit trail behind.
//
// Commands: apply, audit, ledger, cleanup, archive, version.
//
// For detailed usage information, run:
//
//	stackctl --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/imamik/stackctl/cmd/stackctl/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	// Interrupting a run rolls it back instead of leaving it half applied.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Root().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
