package hcloud

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

// testServer mocks the Hetzner Cloud API.
type testServer struct {
	server *httptest.Server
	mux    *http.ServeMux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &testServer{server: server, mux: mux}
}

// realClient returns a RealClient configured to use the test server.
func (ts *testServer) realClient() *RealClient {
	return NewRealClient("test-token",
		WithEndpoint(ts.server.URL),
		WithRateLimit(rate.Inf, 1),
		WithDeleteTimeout(5*time.Second),
	)
}

func (ts *testServer) handleFunc(pattern string, handler http.HandlerFunc) {
	ts.mux.HandleFunc(pattern, handler)
}

// jsonResponse writes a JSON response with the given status code and body.
func jsonResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func apiError(w http.ResponseWriter, statusCode int, code, message string) {
	jsonResponse(w, statusCode, map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}

const created = "2026-01-01T00:00:00Z"

func networkJSON(id int64, name string, labels map[string]string) map[string]any {
	return map[string]any{
		"id":         id,
		"name":       name,
		"ip_range":   "10.0.0.0/16",
		"subnets":    []any{},
		"routes":     []any{},
		"servers":    []any{},
		"protection": map[string]any{"delete": false},
		"labels":     labels,
		"created":    created,
	}
}

func firewallJSON(id int64, name string, labels map[string]string) map[string]any {
	return map[string]any{
		"id":         id,
		"name":       name,
		"rules":      []any{},
		"applied_to": []any{},
		"labels":     labels,
		"created":    created,
	}
}
