package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/stackctl/internal/audit"
	"github.com/imamik/stackctl/internal/breaker"
	"github.com/imamik/stackctl/internal/config"
	"github.com/imamik/stackctl/internal/orchestration"
	"github.com/imamik/stackctl/internal/util/labels"
	"github.com/imamik/stackctl/internal/util/retry"
	"github.com/imamik/stackctl/pkg/remote/fakes"
)

func TestApply_Succeeds(t *testing.T) {
	fastRetries(t)
	client := withFakeClient(t)
	g := newGlobals(t)
	out := newOutput()
	metricsFile := filepath.Join(t.TempDir(), "stackctl.prom")

	err := Apply(context.Background(), g, ApplyOptions{
		Files:       []string{writeWorkflow(t, networkWorkflow)},
		Parallel:    1,
		MetricsFile: metricsFile,
		Out:         out,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, client.Count())

	spec, ok := client.Spec("network", "network-1")
	require.True(t, ok)
	assert.Equal(t, "corr-analytics", spec.Labels[labels.KeyCorrelation])
	assert.Equal(t, "create_network", spec.Labels[labels.KeyStep])
	assert.Equal(t, "analytics", spec.Labels[labels.KeyWorkflow])
	assert.Equal(t, "data", spec.Labels["team"])
	assert.Equal(t, "corr-analytics/create_network", spec.IdempotencyKey)

	assert.Contains(t, out.String(), "Workflow analytics succeeded")
	assert.Contains(t, out.String(), "network/network-1 (analytics-net)")
	assert.Contains(t, out.String(), "Circuit breakers")

	events, err := audit.ReadFile(g.AuditPath())
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, audit.WorkflowStarted, events[0].Type)

	metrics, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `stackctl_workflow_runs_total{status="committed"} 1`)
}

func TestApply_RequiredFailureRollsBack(t *testing.T) {
	fastRetries(t)
	client := withFakeClient(t)
	client.FailCreate("firewall", retry.Permanent(errors.New("quota exceeded")))
	g := newGlobals(t)
	out := newOutput()

	err := Apply(context.Background(), g, ApplyOptions{
		Files: []string{writeWorkflow(t, networkWorkflow)},
		JSON:  true,
		Out:   out,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed at step create_firewall")
	assert.Zero(t, client.Count(), "the network is removed again")
	assert.Equal(t, []string{"network-1"}, client.Deleted())

	var applied []appliedWorkflow
	require.NoError(t, json.Unmarshal(out.Bytes(), &applied))
	require.Len(t, applied, 1)
	require.NotNil(t, applied[0].Result)
	assert.Equal(t, orchestration.WorkflowFailed, applied[0].Result.Status)
	assert.Equal(t, "create_firewall", applied[0].Result.FailedStep)
	assert.NotEmpty(t, applied[0].Error)
}

func TestApply_OptionalFailureIsSkipped(t *testing.T) {
	fastRetries(t)
	client := withFakeClient(t)
	client.FailCreate("ssh_key", retry.Permanent(errors.New("invalid key")))
	g := newGlobals(t)
	out := newOutput()

	err := Apply(context.Background(), g, ApplyOptions{Files: []string{writeWorkflow(t, networkWorkflow)}, Out: out})
	require.NoError(t, err)
	assert.Equal(t, 2, client.Count())
	assert.Contains(t, out.String(), "skipped")
}

func TestApply_RunsFilesConcurrently(t *testing.T) {
	fastRetries(t)
	client := withFakeClient(t)
	g := newGlobals(t)

	err := Apply(context.Background(), g, ApplyOptions{
		Files:    []string{writeWorkflow(t, networkWorkflow), writeWorkflow(t, webWorkflow)},
		Parallel: 2,
		Out:      newOutput(),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, client.Count())
	assert.Equal(t, 2, client.CreateCalls("network"))
}

func TestApply_InvalidWorkflowRunsNothing(t *testing.T) {
	client := withFakeClient(t)
	g := newGlobals(t)

	err := Apply(context.Background(), g, ApplyOptions{
		Files: []string{writeWorkflow(t, networkWorkflow), writeWorkflow(t, "name: broken\nsteps: []\n")},
		Out:   newOutput(),
	})
	require.Error(t, err)
	assert.Zero(t, client.CreateCalls("network"))
	_, statErr := os.Stat(g.AuditPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestApply_RequiresFiles(t *testing.T) {
	err := Apply(context.Background(), newGlobals(t), ApplyOptions{Out: newOutput()})
	assert.ErrorContains(t, err, "at least one workflow file")
}

func TestApply_MissingToken(t *testing.T) {
	t.Setenv("HCLOUD_TOKEN", "")
	g := newGlobals(t)
	err := Apply(context.Background(), g, ApplyOptions{
		Files: []string{writeWorkflow(t, webWorkflow)},
		Out:   newOutput(),
	})
	assert.ErrorIs(t, err, errMissingToken)
}

func TestWorkflowSteps(t *testing.T) {
	t.Parallel()
	wf, err := config.ParseWorkflow([]byte(`
name: keep
steps:
  - name: key
    service: keys
    type: ssh_key
    resource_name: admin
    keep_on_rollback: true
    timeout: 30s
  - name: net
    type: network
    resource_name: net
`))
	require.NoError(t, err)

	steps := workflowSteps(wf, fakes.NewClient())
	require.Len(t, steps, 2)
	assert.Equal(t, "key", steps[0].Name)
	assert.Equal(t, "keys", steps[0].ServiceKey)
	assert.True(t, steps[0].NoCompensation)
	assert.Equal(t, 30*time.Second, steps[0].Timeout)
	assert.NotNil(t, steps[0].Classifier)
	assert.Equal(t, "network", steps[1].ServiceKey)
	assert.False(t, steps[1].NoCompensation)
}

func TestConfigureBreakers_LaterWorkflowWins(t *testing.T) {
	t.Parallel()
	reg := breaker.NewRegistry(breaker.DefaultConfig())
	configureBreakers(reg, []*config.Workflow{
		{Name: "a", Breakers: map[string]breaker.Config{"network": {FailureThreshold: 2}}},
		{Name: "b", Breakers: map[string]breaker.Config{"network": {FailureThreshold: 7}}},
	})
	assert.Equal(t, 7, reg.Status("network").Config.FailureThreshold)
}
