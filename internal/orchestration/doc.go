// Package orchestration runs provisioning workflows that either fully commit
// or are compensated back to a known state.
//
// # Workflow
//
// An Engine executes an ordered list of Steps. Each step runs through the
// circuit breaker of its service key, which wraps the retry policy, which
// wraps the step's remote call:
//
//	breaker.Registry.Call(serviceKey, retry.Policy.Execute(step))
//
// Every created resource is appended to the transaction ledger. When a
// required step fails, or the caller cancels, the ledger is rolled back in
// reverse order. Optional steps that fail are skipped with a warning.
//
// # Usage
//
//	engine, err := orchestration.New(orchestration.Config{
//		Store:       store,
//		Compensator: remote.DeleteCompensator{Client: client},
//		Breakers:    breakers,
//		Audit:       auditLogger,
//	})
//	result, err := engine.ExecuteWorkflow(ctx, "", steps)
//
// ExecuteWorkflow only returns an error when the run could not start. All
// other outcomes, including rollback failures, are reported in the
// WorkflowResult.
package orchestration
