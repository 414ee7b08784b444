package orchestration

import (
	"time"

	"github.com/imamik/stackctl/internal/ledger"
	"github.com/imamik/stackctl/internal/util/retry"
	"github.com/imamik/stackctl/pkg/remote"
)

// StepState is the state of a step within one run.
type StepState string

const (
	StepPending   StepState = "pending"
	StepRunning   StepState = "running"
	StepSucceeded StepState = "succeeded"
	StepFailed    StepState = "failed"
	StepSkipped   StepState = "skipped"
)

// Terminal reports whether the state is final.
func (s StepState) Terminal() bool {
	return s == StepSucceeded || s == StepFailed || s == StepSkipped
}

// StepResult accounts for one step.
type StepResult struct {
	Name       string           `json:"name"`
	ServiceKey string           `json:"service_key,omitempty"`
	Optional   bool             `json:"optional,omitempty"`
	State      StepState        `json:"state"`
	Resource   *remote.Resource `json:"resource,omitempty"`
	Attempts   []retry.Attempt  `json:"attempts,omitempty"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at,omitzero"`
	Duration   time.Duration    `json:"duration,omitempty"`

	Err error `json:"-"`
}

// WorkflowStatus is the overall outcome of a run.
type WorkflowStatus string

const (
	WorkflowSucceeded WorkflowStatus = "succeeded"
	WorkflowFailed    WorkflowStatus = "failed"
)

// WorkflowResult accounts for every step of a run and the final state of its
// transaction.
type WorkflowResult struct {
	CorrelationID     string         `json:"correlation_id"`
	TransactionID     string         `json:"transaction_id"`
	Status            WorkflowStatus `json:"status"`
	TransactionStatus ledger.Status  `json:"transaction_status"`
	Steps             []StepResult   `json:"steps"`
	// Rollback is set when the run was rolled back.
	Rollback *ledger.RollbackReport `json:"rollback,omitempty"`
	// ManualCleanup lists resources an operator has to remove by hand.
	ManualCleanup []ledger.Compensation `json:"manual_cleanup,omitempty"`
	// FailedStep names the required step that failed the run.
	FailedStep string        `json:"failed_step,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`

	Err error `json:"-"`
}

// Succeeded reports whether the transaction committed.
func (r *WorkflowResult) Succeeded() bool {
	return r.Status == WorkflowSucceeded
}

// Step returns the result for the named step.
func (r *WorkflowResult) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}
