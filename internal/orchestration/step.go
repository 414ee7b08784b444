package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imamik/stackctl/internal/ledger"
	"github.com/imamik/stackctl/internal/util/labels"
	"github.com/imamik/stackctl/internal/util/retry"
	"github.com/imamik/stackctl/pkg/remote"
)

// Run identifies the workflow run a step executes in.
type Run struct {
	CorrelationID string
	TransactionID string
	Step          string
}

// IdempotencyKey is stable across retries of the same step in the same run.
func (r Run) IdempotencyKey() string {
	return r.CorrelationID + "/" + r.Step
}

// Executor performs a step's remote call and returns what it created.
type Executor func(ctx context.Context, run Run) (remote.Resource, error)

// Step is one unit of a workflow.
type Step struct {
	Name string
	// ServiceKey selects the circuit breaker guarding the call.
	ServiceKey string
	// Optional steps are skipped on failure instead of failing the workflow.
	Optional bool
	Execute  Executor
	// Classifier decides which errors are retried. Nil means
	// retry.DefaultClassifier.
	Classifier retry.Classifier
	// Timeout bounds the step including all retries. Zero means the engine
	// default.
	Timeout time.Duration
	// NoCompensation marks steps whose result needs no undo on rollback.
	NoCompensation bool
}

func (s Step) compensation(res remote.Resource) ledger.Compensation {
	if s.NoCompensation {
		return ledger.Compensation{Action: ledger.ActionNone, ResourceType: res.Type, ResourceID: res.ID}
	}
	return ledger.DeleteOf(res.Type, res.ID)
}

func validateSteps(steps []Step) error {
	if len(steps) == 0 {
		return errors.New("workflow has no steps")
	}
	seen := make(map[string]bool, len(steps))
	for i, s := range steps {
		switch {
		case s.Name == "":
			return fmt.Errorf("step %d has no name", i)
		case seen[s.Name]:
			return fmt.Errorf("duplicate step name %q", s.Name)
		case s.Execute == nil:
			return fmt.Errorf("step %q has no executor", s.Name)
		case s.Timeout < 0:
			return fmt.Errorf("step %q has negative timeout", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// CreateResource returns an Executor that creates spec through client. The
// spec gets the run's idempotency key and correlation labels.
func CreateResource(client remote.Client, spec remote.ResourceSpec) Executor {
	return func(ctx context.Context, run Run) (remote.Resource, error) {
		s := spec
		s.IdempotencyKey = run.IdempotencyKey()
		s.Labels = labels.NewLabelBuilder(run.CorrelationID).
			WithStep(run.Step).
			Merge(spec.Labels).
			Build()

		id, err := client.Create(ctx, s)
		if err != nil {
			return remote.Resource{}, fmt.Errorf("create %s %q: %w", s.Type, s.Name, err)
		}
		return remote.Resource{Type: s.Type, ID: id, Name: s.Name}, nil
	}
}
