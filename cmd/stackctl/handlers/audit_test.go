package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/stackctl/internal/audit"
)

// applyOnce runs the network workflow so the state dir holds an audit log.
func applyOnce(t *testing.T) *Globals {
	t.Helper()
	fastRetries(t)
	withFakeClient(t)
	g := newGlobals(t)
	require.NoError(t, Apply(context.Background(), g, ApplyOptions{
		Files: []string{writeWorkflow(t, networkWorkflow)},
		Out:   newOutput(),
	}))
	return g
}

func TestAuditQuery(t *testing.T) {
	g := applyOnce(t)
	out := newOutput()

	err := AuditQuery(context.Background(), g, AuditQueryOptions{CorrelationID: "corr-analytics", Out: out})
	require.NoError(t, err)
	assert.Contains(t, out.String(), string(audit.WorkflowStarted))
	assert.Contains(t, out.String(), string(audit.TransactionCommitted))
	assert.Contains(t, out.String(), "step=create_network")
}

func TestAuditQuery_JSONLines(t *testing.T) {
	g := applyOnce(t)
	out := newOutput()

	err := AuditQuery(context.Background(), g, AuditQueryOptions{CorrelationID: "corr-analytics", JSON: true, Out: out})
	require.NoError(t, err)

	var events []audit.Event
	sc := bufio.NewScanner(bytes.NewReader(out.Bytes()))
	for sc.Scan() {
		var ev audit.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NotEmpty(t, events)
	for i, ev := range events {
		assert.Equal(t, "corr-analytics", ev.CorrelationID)
		if i > 0 {
			assert.Greater(t, ev.Seq, events[i-1].Seq)
		}
	}
	assert.Equal(t, audit.WorkflowFinished, events[len(events)-1].Type)
}

func TestAuditQuery_Errors(t *testing.T) {
	g := applyOnce(t)

	err := AuditQuery(context.Background(), g, AuditQueryOptions{CorrelationID: "corr-unknown", Out: newOutput()})
	assert.ErrorContains(t, err, `no audit events for correlation id "corr-unknown"`)

	err = AuditQuery(context.Background(), newGlobals(t), AuditQueryOptions{CorrelationID: "x", Out: newOutput()})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAuditVerify(t *testing.T) {
	g := applyOnce(t)
	out := newOutput()

	require.NoError(t, AuditVerify(context.Background(), g, "", out))
	assert.True(t, strings.HasPrefix(out.String(), "OK "))
	assert.Contains(t, out.String(), "head:")
}

func TestAuditVerify_DetectsTampering(t *testing.T) {
	g := applyOnce(t)
	tampered := filepath.Join(t.TempDir(), "audit.jsonl")
	data, err := os.ReadFile(g.AuditPath())
	require.NoError(t, err)
	require.Contains(t, string(data), "Workflow started")
	require.NoError(t, os.WriteFile(tampered,
		[]byte(strings.Replace(string(data), "Workflow started", "Workflow skipped", 1)), 0o600))

	out := newOutput()
	err = AuditVerify(context.Background(), g, tampered, out)
	var chainErr *audit.ChainError
	require.ErrorAs(t, err, &chainErr)
	assert.Contains(t, out.String(), "TAMPERED")
}
