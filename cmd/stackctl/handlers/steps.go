package handlers

import (
	"github.com/imamik/stackctl/internal/breaker"
	"github.com/imamik/stackctl/internal/config"
	"github.com/imamik/stackctl/internal/orchestration"
	"github.com/imamik/stackctl/internal/platform/hcloud"
	"github.com/imamik/stackctl/internal/util/labels"
	"github.com/imamik/stackctl/pkg/remote"
)

// stepClassifier decides which remote errors are retried.
var stepClassifier = hcloud.Classify

// workflowSteps converts a workflow definition into engine steps that create
// resources through client.
func workflowSteps(wf *config.Workflow, client remote.Client) []orchestration.Step {
	steps := make([]orchestration.Step, 0, len(wf.Steps))
	for _, s := range wf.Steps {
		stepLabels := labels.NewLabelBuilder("").
			WithWorkflowIfSet(wf.Name).
			Merge(s.Labels).
			Build()
		// The engine sets the run's own correlation label.
		delete(stepLabels, labels.KeyCorrelation)

		steps = append(steps, orchestration.Step{
			Name:       s.Name,
			ServiceKey: s.ServiceKey(),
			Optional:   s.Optional,
			Execute: orchestration.CreateResource(client, remote.ResourceSpec{
				Type:   s.Type,
				Name:   s.ResourceName,
				Labels: stepLabels,
				Params: s.Params,
			}),
			Classifier:     stepClassifier,
			Timeout:        s.Timeout,
			NoCompensation: s.KeepOnRollback,
		})
	}
	return steps
}

// configureBreakers applies the per-service overrides of every workflow.
// When two workflows configure the same key, the later one wins.
func configureBreakers(reg *breaker.Registry, workflows []*config.Workflow) {
	for _, wf := range workflows {
		for key, cfg := range wf.Breakers {
			reg.Configure(key, cfg)
		}
	}
}
