// Package labels provides consistent labeling for resources created by
// stackctl.
//
// All labels use the stackctl.io domain prefix. Every created resource carries
// the correlation id of the workflow run and the step that created it, so
// partial state can be found by label even without the ledger.
package labels
