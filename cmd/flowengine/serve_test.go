package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/config"
	"github.com/BaSui01/flowengine/llm/circuitbreaker"
	"github.com/BaSui01/flowengine/workflow"
	"github.com/BaSui01/flowengine/workflow/repository"
)

const greetingYAML = `
nodes:
  - kind: input
    id: in
    name: input
  - kind: template
    id: greet
    name: greet
    template: "Hello, {{input.name}}!"
  - kind: output
    id: out
    name: output
    outputData:
      - key: greeting
        source: {nodeId: greet, path: [template]}
edges:
  - {id: e1, source: in, target: greet}
  - {id: e2, source: greet, target: out}
`

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeting.yaml"), []byte(greetingYAML), 0o600))

	cfg := config.DefaultConfig()
	cfg.Workflows.Dir = dir
	cfg.Server.RateLimitRPS = 0

	a, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func doAs(t *testing.T, h http.Handler, user, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+signHS256(t, testSecret, user))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestNewApp_ImportsWorkflows(t *testing.T) {
	a := newTestApp(t)

	wf, err := a.repo.Get(context.Background(), "greeting")
	require.NoError(t, err)
	assert.True(t, wf.Shared)
	assert.Len(t, wf.Graph.Nodes, 3)
}

func TestRouter_Health(t *testing.T) {
	h := newRouter(t.Context(), newTestApp(t))

	rec, env := doRequest(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec, env = doRequest(t, h, http.MethodGet, "/version", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), Version)
}

func TestRouter_HealthReportsOpenCircuit(t *testing.T) {
	a := newTestApp(t)
	a.breaker = circuitbreaker.NewCircuitBreaker(&circuitbreaker.Config{Threshold: 1, ResetTimeout: time.Hour}, nil)
	require.Error(t, a.breaker.Call(t.Context(), func(context.Context) error { return errors.New("connection reset") }))
	h := newRouter(t.Context(), a)

	rec, env := doRequest(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var health map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "degraded", health["status"])
	assert.Equal(t, "Open", health["model_circuit"])
}

func TestRouter_RunWorkflowAndFetch(t *testing.T) {
	a := newTestApp(t)
	h := newRouter(t.Context(), a)

	rec, env := doRequest(t, h, http.MethodPost, "/api/v1/workflows/greeting/runs", `{"name":"Ada"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var run struct {
		RunID      string         `json:"runId"`
		WorkflowID string         `json:"workflowId"`
		Status     string         `json:"status"`
		Output     map[string]any `json:"output"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, "greeting", run.WorkflowID)
	assert.Equal(t, map[string]any{"greeting": "Hello, Ada!"}, run.Output)

	rec, env = doRequest(t, h, http.MethodGet, "/api/v1/runs/"+run.RunID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), run.RunID)

	rec, env = doRequest(t, h, http.MethodGet, "/api/v1/runs?workflowId=greeting", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &runs))
	assert.Len(t, runs, 1)

	rec, env = doRequest(t, h, http.MethodGet, "/api/v1/runs?status=failed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(env.Data))

	since := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	rec, env = doRequest(t, h, http.MethodGet, "/api/v1/runs?since="+since, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &runs))
	assert.Len(t, runs, 1)

	rec, env = doRequest(t, h, http.MethodGet, "/api/v1/runs?until=2000-01-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestRouter_RunErrors(t *testing.T) {
	h := newRouter(t.Context(), newTestApp(t))

	rec, _ := doRequest(t, h, http.MethodPost, "/api/v1/workflows/missing/runs", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doRequest(t, h, http.MethodPost, "/api/v1/workflows/greeting/runs", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doRequest(t, h, http.MethodPost, "/api/v1/workflows/greeting/runs?timeout=soon", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doRequest(t, h, http.MethodGet, "/api/v1/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doRequest(t, h, http.MethodGet, "/api/v1/runs?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doRequest(t, h, http.MethodGet, "/api/v1/workflows/greeting/runs", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRouter_JWTProtectsRuns(t *testing.T) {
	a := newTestApp(t)
	a.cfg.Server.JWT = config.JWTConfig{Secret: testSecret}
	require.NoError(t, a.repo.Save(context.Background(), &repository.Workflow{
		ID:      "private",
		OwnerID: "alice",
		Graph:   mustGraph(t),
	}))
	h := newRouter(t.Context(), a)

	rec, _ := doRequest(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doRequest(t, h, http.MethodPost, "/api/v1/workflows/private/runs", `{"name":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	post := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/private/runs", strings.NewReader(`{"name":"x"}`))
		req.Header.Set("Authorization", "Bearer "+signHS256(t, testSecret, user))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	assert.Equal(t, http.StatusForbidden, post("mallory").Code)
	assert.Equal(t, http.StatusOK, post("alice").Code)
}

func TestRouter_RunsScopedToUser(t *testing.T) {
	a := newTestApp(t)
	a.cfg.Server.JWT = config.JWTConfig{Secret: testSecret}
	h := newRouter(t.Context(), a)

	rec, env := doAs(t, h, "alice", http.MethodPost, "/api/v1/workflows/greeting/runs", `{"name":"alice-private"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var run struct {
		RunID  string `json:"runId"`
		UserID string `json:"userId"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.Equal(t, "alice", run.UserID)

	for _, path := range []string{"/api/v1/runs", "/api/v1/runs?workflowId=greeting", "/api/v1/runs?status=completed"} {
		rec, env = doAs(t, h, "bob", http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, string(env.Data), path)
		assert.NotContains(t, rec.Body.String(), "alice-private")
	}
	rec, _ = doAs(t, h, "bob", http.MethodGet, "/api/v1/runs/"+run.RunID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = doAs(t, h, "alice", http.MethodGet, "/api/v1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.RunID, runs[0]["runId"])

	rec, _ = doAs(t, h, "alice", http.MethodGet, "/api/v1/runs/"+run.RunID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

const releaseYAML = `
nodes:
  - kind: input
    id: in
    name: input
  - kind: approval
    id: gate
    name: gate
    message: "release?"
    timeoutMs: 5000
    onTimeout: reject
  - kind: output
    id: out
    name: output
    outputData:
      - key: approved
        source: {nodeId: gate, path: [approved]}
edges:
  - {id: e1, source: in, target: gate}
  - {id: e2, source: gate, target: out}
`

func TestRouter_ApprovalsScopedToUser(t *testing.T) {
	a := newTestApp(t)
	a.cfg.Server.JWT = config.JWTConfig{Secret: testSecret}
	g, err := workflow.ParseGraphYAML([]byte(releaseYAML))
	require.NoError(t, err)
	require.NoError(t, a.repo.Save(context.Background(), &repository.Workflow{ID: "release", OwnerID: "alice", Graph: g}))
	h := newRouter(t.Context(), a)

	token := signHS256(t, testSecret, "alice")
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/workflows/release/runs", strings.NewReader(`{}`))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		done <- rec
	}()
	require.Eventually(t, func() bool { return len(a.approvals.Pending("")) == 1 }, 2*time.Second, 5*time.Millisecond)
	id := a.approvals.Pending("")[0].ID

	rec, env := doAs(t, h, "bob", http.MethodGet, "/api/v1/approvals", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(env.Data))

	rec, _ = doAs(t, h, "bob", http.MethodPost, "/api/v1/approvals", `{"id":"`+id+`","approved":true}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = doAs(t, h, "alice", http.MethodGet, "/api/v1/approvals", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), id)

	rec, _ = doAs(t, h, "alice", http.MethodPost, "/api/v1/approvals", `{"id":"`+id+`","approved":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case rec = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish after approval")
	}
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"approved":true`)
}

func TestRouter_ApprovalsAndMetrics(t *testing.T) {
	h := newRouter(t.Context(), newTestApp(t))

	rec, env := doRequest(t, h, http.MethodGet, "/api/v1/approvals", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	rec, _ = doRequest(t, h, http.MethodPost, "/api/v1/approvals", `{"id":"unknown","approved":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, _ = doRequest(t, h, http.MethodPost, "/api/v1/workflows/greeting/runs", `{"name":"Ada"}`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "flowengine_")
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, `/api/v1/workflows/:id/runs`)
}

func mustGraph(t *testing.T) *workflow.Graph {
	t.Helper()
	g, err := workflow.ParseGraphYAML([]byte(greetingYAML))
	require.NoError(t, err)
	return g
}
