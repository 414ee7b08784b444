// Package handlers implements the business logic for CLI commands.
//
// Each handler wires the orchestration engine, ledger store, audit log and
// platform clients for one command. Constructors of external clients are
// package variables so tests can substitute fakes.
package handlers
