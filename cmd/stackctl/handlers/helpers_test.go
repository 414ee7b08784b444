package handlers

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imamik/stackctl/pkg/remote"
	"github.com/imamik/stackctl/pkg/remote/fakes"
)

// withFakeClient routes every remote call of the handlers to a fake.
func withFakeClient(t *testing.T) *fakes.Client {
	t.Helper()
	client := fakes.NewClient()
	orig := newRemoteClient
	newRemoteClient = func(string) (remote.Client, error) { return client, nil }
	t.Cleanup(func() { newRemoteClient = orig })
	return client
}

// fastRetries keeps failing runs from sleeping through real backoff.
func fastRetries(t *testing.T) {
	t.Helper()
	t.Setenv("STACKCTL_RETRY_MAX_ATTEMPTS", "2")
	t.Setenv("STACKCTL_RETRY_BASE_DELAY", "1ms")
	t.Setenv("STACKCTL_RETRY_MAX_DELAY", "2ms")
}

func newGlobals(t *testing.T) *Globals {
	t.Helper()
	return &Globals{StateDir: filepath.Join(t.TempDir(), "state"), LedgerBackend: BackendFile}
}

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

const networkWorkflow = `
name: analytics
correlation_id: corr-analytics
breakers:
  network:
    failure_threshold: 2
steps:
  - name: create_network
    type: network
    resource_name: analytics-net
    labels:
      team: data
  - name: create_firewall
    type: firewall
    resource_name: analytics-fw
  - name: add_ssh_key
    type: ssh_key
    resource_name: analytics-admin
    optional: true
`

const webWorkflow = `
name: web
correlation_id: corr-web
steps:
  - name: create_network
    type: network
    resource_name: web-net
`

func newOutput() *bytes.Buffer {
	return &bytes.Buffer{}
}
