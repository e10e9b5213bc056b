package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/llm"
	"github.com/BaSui01/flowengine/llm/tools"
	"github.com/BaSui01/flowengine/testutil"
	"github.com/BaSui01/flowengine/testutil/fixtures"
	"github.com/BaSui01/flowengine/testutil/mocks"
	"github.com/BaSui01/flowengine/types"
	"github.com/BaSui01/flowengine/workflow"
	"github.com/BaSui01/flowengine/workflow/approval"
	"github.com/BaSui01/flowengine/workflow/expr"
	"github.com/BaSui01/flowengine/workflow/repository"
	"github.com/BaSui01/flowengine/workflow/storage"
)

func stringSchema() *workflow.Schema { return &workflow.Schema{Type: workflow.SchemaString} }

func inputOf(t *testing.T, res *workflow.RunResult, nodeID string) map[string]any {
	t.Helper()
	v, ok := res.Inputs[nodeID]
	require.True(t, ok, "no recorded input for %s", nodeID)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	return m
}

// =============================================================================
// LLM
// =============================================================================

func llmGraph(schema *workflow.Schema, out ...workflow.Mapping) *workflow.Graph {
	in := fixtures.Input("in", "question")
	node := &workflow.LLMNode{
		NodeBase: fixtures.Base("llm", "writer"),
		Model:    "gpt-4",
		Messages: []workflow.LLMMessage{
			{Role: "system", Content: workflow.Text("Be brief.")},
			{Role: "user", Content: workflow.Text("{{input.question}}")},
		},
	}
	node.OutputSchema = schema
	if len(out) == 0 {
		out = []workflow.Mapping{fixtures.Map("answer", "llm", "answer")}
	}
	return fixtures.Linear(in, node, fixtures.Output("out", out...))
}

func TestLLM_TextAnswer(t *testing.T) {
	provider := mocks.NewMockProvider().WithResponse("Paris")
	e := newEngine(workflow.Dependencies{Model: provider})

	res, err := e.Run(testutil.TestContext(t), llmGraph(nil), map[string]any{"question": "Capital of France?"}, workflow.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"answer": "Paris"}, res.Output)

	req := provider.LastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "gpt-4", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "Capital of France?", req.Messages[1].Content)
	assert.Nil(t, req.ResponseFormat)

	audit := inputOf(t, res, "llm")
	usage, ok := audit["usage"].(llm.ChatUsage)
	require.True(t, ok)
	assert.Equal(t, 30, usage.TotalTokens)
}

func TestLLM_EstimatesMissingUsage(t *testing.T) {
	provider := mocks.NewMockProvider().WithResponse("a reasonably long answer").WithTokenUsage(0, 0)
	e := newEngine(workflow.Dependencies{Model: provider})

	res, err := e.Run(context.Background(), llmGraph(nil), map[string]any{"question": "why?"}, workflow.RunOptions{})
	require.NoError(t, err)

	usage := inputOf(t, res, "llm")["usage"].(llm.ChatUsage)
	assert.Positive(t, usage.PromptTokens)
	assert.Positive(t, usage.CompletionTokens)
	assert.Equal(t, usage.PromptTokens+usage.CompletionTokens, usage.TotalTokens)
}

func TestLLM_StructuredAnswer(t *testing.T) {
	schema := workflow.ObjectSchema(workflow.Prop("answer",
		workflow.ObjectSchema(workflow.Prop("city", stringSchema()))))
	provider := mocks.NewMockProvider().WithResponse("```json\n{\"answer\": {\"city\": \"Paris\"}}\n```")
	e := newEngine(workflow.Dependencies{Model: provider})

	g := llmGraph(schema, fixtures.Map("city", "llm", "answer", "city"))
	res, err := e.Run(context.Background(), g, map[string]any{"question": "where?"}, workflow.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"city": "Paris"}, res.Output)

	req := provider.LastRequest()
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, "json_schema", req.ResponseFormat.Type)
}

func TestLLM_ProviderErrorFailsRun(t *testing.T) {
	provider := mocks.NewMockProvider().WithError(errors.New("rate limited"))
	e := newEngine(workflow.Dependencies{Model: provider})

	res, err := e.Run(context.Background(), llmGraph(nil), map[string]any{"question": "q"}, workflow.RunOptions{})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrExecution))
	assert.Contains(t, err.Error(), "rate limited")
	require.NotNil(t, res.Failure)
	assert.Equal(t, workflow.KindLLM, res.Failure.NodeKind)
	assert.Equal(t, "writer", res.Failure.NodeName)
}

func TestLLM_MissingProvider(t *testing.T) {
	e := newEngine(workflow.Dependencies{})
	_, err := e.Run(context.Background(), llmGraph(nil), map[string]any{"question": "q"}, workflow.RunOptions{})
	assert.True(t, types.IsErrorCode(err, types.ErrProviderNotSet))
}

// =============================================================================
// Tool
// =============================================================================

func toolGraph(ref *workflow.ToolRef) *workflow.Graph {
	in := fixtures.Input("in", "query")
	node := &workflow.ToolNode{
		NodeBase: fixtures.Base("tool", "lookup"),
		Tool:     ref,
		Model:    "gpt-4",
		Message:  workflow.Text("search for {{input.query}}"),
	}
	return fixtures.Linear(in, node, fixtures.Output("out", fixtures.Map("result", "tool", "tool_result")))
}

func TestTool_AppRegistry(t *testing.T) {
	registry := tools.NewRegistry(zap.NewNop())
	require.NoError(t, registry.Register("clock", func(ctx context.Context, params map[string]any) (any, error) {
		return "noon", nil
	}, tools.ToolMetadata{}))

	e := newEngine(workflow.Dependencies{AppTools: registry})
	res, err := e.Run(context.Background(),
		toolGraph(&workflow.ToolRef{ID: "clock", Name: "clock", Source: workflow.ToolSourceApp}),
		map[string]any{"query": "time"}, workflow.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "noon"}, res.Output)
	assert.Equal(t, "search for time", inputOf(t, res, "tool")["message"])
}

func TestTool_ManagedWithModelArguments(t *testing.T) {
	provider := mocks.NewMockProvider().WithToolCalls([]llm.ToolCall{
		{ID: "call_1", Name: "search", Arguments: json.RawMessage(`{"q":"golang"}`)},
	})
	manager := mocks.NewMockToolManager().WithToolResult("search", []any{"go.dev"})

	ref := &workflow.ToolRef{
		ID: "t-1", Name: "search", Source: workflow.ToolSourceManaged, ServerID: "srv",
		Parameters: workflow.ObjectSchema(workflow.Prop("q", stringSchema())),
	}
	e := newEngine(workflow.Dependencies{Model: provider, Tools: manager})
	res, err := e.Run(context.Background(), toolGraph(ref), map[string]any{"query": "golang"}, workflow.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": []any{"go.dev"}}, res.Output)

	call := manager.GetLastCall()
	require.NotNil(t, call)
	assert.Equal(t, tools.Ref{ID: "t-1", Name: "search", ServerID: "srv"}, call.Ref)
	assert.Equal(t, map[string]any{"q": "golang"}, call.Args)

	req := provider.LastRequest()
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "search", req.ToolChoice)
}

func TestTool_ErrorResult(t *testing.T) {
	manager := mocks.NewMockToolManager().WithToolFailure("search", "quota")
	e := newEngine(workflow.Dependencies{Tools: manager})

	_, err := e.Run(context.Background(),
		toolGraph(&workflow.ToolRef{ID: "t-1", Name: "search", Source: workflow.ToolSourceManaged}),
		map[string]any{"query": "x"}, workflow.RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool search failed: quota")
}

func TestTool_TransportError(t *testing.T) {
	manager := mocks.NewMockToolManager().WithToolError("search", errors.New("connection reset"))
	e := newEngine(workflow.Dependencies{Tools: manager})

	_, err := e.Run(context.Background(),
		toolGraph(&workflow.ToolRef{ID: "t-1", Name: "search", Source: workflow.ToolSourceManaged}),
		map[string]any{"query": "x"}, workflow.RunOptions{})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrExecution))
	assert.Contains(t, err.Error(), "connection reset")
}

// =============================================================================
// HTTP
// =============================================================================

func TestHTTP_PostJSON(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/users", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("team"))
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 42}`))
	}))
	defer srv.Close()

	in := fixtures.Input("in", "profile", "team")
	call := &workflow.HTTPNode{
		NodeBase:    fixtures.Base("call", "create"),
		Method:      http.MethodPost,
		URL:         &workflow.RichText{Text: srv.URL + "/users"},
		QueryParams: []workflow.KeyValue{{Key: "team", Value: workflow.Operand{Source: fixtures.Ref("in", "team")}}},
		Headers:     []workflow.KeyValue{{Key: "X-Token", Value: workflow.Operand{Value: "secret"}}},
		Body:        &workflow.Operand{Source: fixtures.Ref("in", "profile")},
		BodyType:    workflow.BodyJSON,
	}
	out := fixtures.Output("out", fixtures.Map("status", "call", "status"), fixtures.Map("id", "call", "body", "id"))

	e := newEngine(workflow.Dependencies{HTTPClient: srv.Client()})
	res, err := e.Run(context.Background(), fixtures.Linear(in, call, out),
		map[string]any{"profile": map[string]any{"name": "ada"}, "team": 7}, workflow.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": http.StatusCreated, "id": float64(42)}, res.Output)
	assert.Equal(t, map[string]any{"name": "ada"}, received)
}

func TestHTTP_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	in := fixtures.Input("in")
	call := &workflow.HTTPNode{NodeBase: fixtures.Base("call", "call"), Method: http.MethodGet, URL: &workflow.RichText{Text: srv.URL}}
	out := fixtures.Output("out", fixtures.Map("status", "call", "status"))

	e := newEngine(workflow.Dependencies{HTTPClient: srv.Client()})
	res, err := e.Run(context.Background(), fixtures.Linear(in, call, out), nil, workflow.RunOptions{})
	require.Error(t, err)

	var httpErr *workflow.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, workflow.HTTPErrorStatus, httpErr.Kind)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)

	response := inputOf(t, res, "call")["response"].(map[string]any)
	assert.Equal(t, false, response["ok"])
	assert.Equal(t, http.StatusNotFound, response["status"])
}

func TestHTTP_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	timeout := 50
	in := fixtures.Input("in")
	call := &workflow.HTTPNode{
		NodeBase: fixtures.Base("call", "slow"),
		Method:   http.MethodGet,
		URL:      &workflow.RichText{Text: srv.URL},
		Timeout:  &timeout,
	}
	out := fixtures.Output("out", fixtures.Map("status", "call", "status"))

	e := newEngine(workflow.Dependencies{HTTPClient: srv.Client()})
	res, err := e.Run(context.Background(), fixtures.Linear(in, call, out), nil, workflow.RunOptions{})
	require.Error(t, err)
	assert.True(t, workflow.IsTimeout(err))
	assert.Contains(t, err.Error(), "timeout")

	var httpErr *workflow.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, workflow.HTTPErrorTimeout, httpErr.Kind)

	response := inputOf(t, res, "call")["response"].(map[string]any)
	assert.Equal(t, false, response["ok"])
	assert.Equal(t, string(workflow.HTTPErrorTimeout), response["errorType"])
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestHTTP_TransportFailureKinds(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedAddr := ln.Addr().String()
	require.NoError(t, ln.Close())

	// no proxy, so failures come from the dial itself
	direct := &http.Client{Transport: &http.Transport{}}

	tests := []struct {
		name   string
		url    string
		client *http.Client
		kind   workflow.HTTPErrorKind
	}{
		{name: "refused connection", url: "http://" + closedAddr + "/", client: direct, kind: workflow.HTTPErrorConnection},
		{name: "unresolvable host", url: "http://nonexistent.invalid/", client: direct, kind: workflow.HTTPErrorDNS},
		{
			name: "other transport error",
			url:  "http://example.test/",
			client: &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
				return nil, errors.New("tls: handshake failure")
			})},
			kind: workflow.HTTPErrorUnknown,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := fixtures.Input("in")
			call := &workflow.HTTPNode{NodeBase: fixtures.Base("call", "call"), Method: http.MethodGet, URL: &workflow.RichText{Text: tt.url}}
			out := fixtures.Output("out", fixtures.Map("status", "call", "status"))

			e := newEngine(workflow.Dependencies{HTTPClient: tt.client})
			res, err := e.Run(context.Background(), fixtures.Linear(in, call, out), nil, workflow.RunOptions{})
			require.Error(t, err)
			assert.False(t, workflow.IsTimeout(err))

			var httpErr *workflow.HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.kind, httpErr.Kind)

			response := inputOf(t, res, "call")["response"].(map[string]any)
			assert.Equal(t, false, response["ok"])
			assert.Equal(t, string(tt.kind), response["errorType"])
		})
	}
}

// =============================================================================
// Loop
// =============================================================================

func loopGraph(mode workflow.LoopMode, maxIterations int, body workflow.Node) *workflow.Graph {
	in := fixtures.Input("in", "items")
	loop := &workflow.LoopNode{
		NodeBase:      fixtures.Base("loop", "loop"),
		ArraySource:   fixtures.Ref("in", "items"),
		ItemVariable:  "n",
		IndexVariable: "i",
		MaxIterations: maxIterations,
		Mode:          mode,
	}
	out := fixtures.Output("out", fixtures.Map("count", "loop", "length"), fixtures.Map("results", "loop", "results"))
	return workflow.NewGraph(
		[]workflow.Node{in, loop, body, out},
		[]workflow.Edge{
			fixtures.Edge("in", "loop"),
			fixtures.HandleEdge("loop", "body", body.Base().ID),
			fixtures.HandleEdge("loop", workflow.LoopDoneHandle, "out"),
		},
	)
}

func TestLoop_ParallelHonorsMaxIterations(t *testing.T) {
	body := fixtures.Template("double", "double", "{{loop.n}}-{{loop.i}}")
	e := newEngine(workflow.Dependencies{})

	res, err := e.Run(context.Background(), loopGraph(workflow.LoopParallel, 2, body),
		map[string]any{"items": []any{1, 2, 3}}, workflow.RunOptions{})
	require.NoError(t, err)

	out := res.Output.(map[string]any)
	assert.Equal(t, 2, out["count"])
	results := out["results"].([]any)
	require.Len(t, results, 2)
	for i, want := range []string{"1-0", "2-1"} {
		entry := results[i].(map[string]any)
		assert.Equal(t, i, entry["index"])
		assert.Equal(t, map[string]any{"double": map[string]any{"template": want}}, entry["output"])
	}

	iterations := 0
	for _, h := range res.History {
		if h.NodeID == "double" {
			require.NotNil(t, h.Iteration)
			iterations++
		}
	}
	assert.Equal(t, 2, iterations)
}

func TestLoop_SequentialStopsAtFirstFailure(t *testing.T) {
	body := &workflow.DelayNode{
		NodeBase:      fixtures.Base("pause", "pause"),
		DelayType:     workflow.DelayDynamic,
		DynamicSource: fixtures.Ref("loop", "n"),
	}
	e := newEngine(workflow.Dependencies{})

	_, err := e.Run(context.Background(), loopGraph(workflow.LoopSequential, 10, body),
		map[string]any{"items": []any{1, "x", 3}}, workflow.RunOptions{})
	require.Error(t, err)

	var loopErr *workflow.LoopError
	require.ErrorAs(t, err, &loopErr)
	assert.Equal(t, "loop", loopErr.NodeID)
	require.Len(t, loopErr.Failed, 1)
	assert.Contains(t, loopErr.Failed, 1)
}

func TestLoop_ParallelCollectsAllFailures(t *testing.T) {
	body := &workflow.DelayNode{
		NodeBase:      fixtures.Base("pause", "pause"),
		DelayType:     workflow.DelayDynamic,
		DynamicSource: fixtures.Ref("loop", "n"),
	}
	e := newEngine(workflow.Dependencies{})

	_, err := e.Run(context.Background(), loopGraph(workflow.LoopParallel, 10, body),
		map[string]any{"items": []any{"a", 1, "b"}}, workflow.RunOptions{})
	var loopErr *workflow.LoopError
	require.ErrorAs(t, err, &loopErr)
	assert.Len(t, loopErr.Failed, 2)
	assert.Contains(t, loopErr.Failed, 0)
	assert.Contains(t, loopErr.Failed, 2)
}

func TestLoop_SourceMustBeArray(t *testing.T) {
	body := fixtures.Template("double", "double", "{{loop.n}}")
	e := newEngine(workflow.Dependencies{})

	_, err := e.Run(context.Background(), loopGraph(workflow.LoopSequential, 5, body),
		map[string]any{"items": "not a list"}, workflow.RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must resolve to an array")
}

// =============================================================================
// Storage
// =============================================================================

func storageNode(id string, op workflow.StorageOperation, key string) *workflow.StorageNode {
	return &workflow.StorageNode{NodeBase: fixtures.Base(id, id), Operation: op, StorageKey: workflow.Text(key)}
}

func TestStorage_Lifecycle(t *testing.T) {
	store := storage.NewMemoryStore()
	in := fixtures.Input("in", "value")
	set := storageNode("save", workflow.StorageSet, "greeting")
	set.StorageValue = &workflow.Operand{Source: fixtures.Ref("in", "value")}
	get := storageNode("load", workflow.StorageGet, "greeting")
	list := storageNode("keys", workflow.StorageList, "")
	del := storageNode("drop", workflow.StorageDelete, "greeting")
	out := fixtures.Output("out",
		fixtures.Map("found", "load", "found"),
		fixtures.Map("value", "load", "value"),
		fixtures.Map("keys", "keys", "keys"),
		fixtures.Map("deleted", "drop", "deleted"),
	)

	e := newEngine(workflow.Dependencies{Storage: store})
	ctx := testutil.TestContext(t)
	res, err := e.Run(ctx, fixtures.Linear(in, set, get, list, del, out),
		map[string]any{"value": "hi"}, workflow.RunOptions{WorkflowID: "wf"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"found":   true,
		"value":   "hi",
		"keys":    []string{"greeting"},
		"deleted": true,
	}, res.Output)

	_, found, err := store.Get(ctx, storage.ScopeKey("wf", "greeting"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStorage_MissingKey(t *testing.T) {
	in := fixtures.Input("in")
	get := storageNode("load", workflow.StorageGet, "nothing")
	out := fixtures.Output("out", fixtures.Map("found", "load", "found"), fixtures.Map("value", "load", "value"))

	e := newEngine(workflow.Dependencies{Storage: storage.NewMemoryStore()})
	res, err := e.Run(context.Background(), fixtures.Linear(in, get, out), nil, workflow.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"found": false}, res.Output)
}

func TestStorage_ScopedPerWorkflow(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, storage.ScopeKey("other", "k"), "theirs", 0))

	in := fixtures.Input("in")
	get := storageNode("load", workflow.StorageGet, "k")
	out := fixtures.Output("out", fixtures.Map("found", "load", "found"))

	e := newEngine(workflow.Dependencies{Storage: store})
	res, err := e.Run(ctx, fixtures.Linear(in, get, out), nil, workflow.RunOptions{WorkflowID: "mine"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"found": false}, res.Output)
}

// =============================================================================
// Approval
// =============================================================================

func approvalGraph(timeoutMs int, onTimeout workflow.TimeoutAction) *workflow.Graph {
	in := fixtures.Input("in", "env")
	gate := &workflow.ApprovalNode{
		NodeBase:  fixtures.Base("gate", "gate"),
		Message:   workflow.Text("deploy to {{input.env}}?"),
		TimeoutMs: timeoutMs,
		OnTimeout: onTimeout,
	}
	out := fixtures.Output("out",
		fixtures.Map("approved", "gate", "approved"),
		fixtures.Map("rejected", "gate", "rejected"),
		fixtures.Map("comment", "gate", "comment"),
		fixtures.Map("timedOut", "gate", "timedOut"),
	)
	return fixtures.Linear(in, gate, out)
}

func TestApproval_Resolved(t *testing.T) {
	manager := approval.NewManager(approval.NewMemoryStore(), zap.NewNop())
	manager.RegisterHandler(func(ctx context.Context, a *approval.Approval) error {
		assert.Equal(t, "deploy to prod?", a.Message)
		assert.Equal(t, "gate", a.NodeID)
		return manager.Resolve(context.Background(), a.ID, &approval.Response{Approved: true, Comment: "ship it", UserID: "lead"})
	})

	e := newEngine(workflow.Dependencies{Approvals: manager})
	res, err := e.Run(context.Background(), approvalGraph(5000, workflow.TimeoutStop),
		map[string]any{"env": "prod"}, workflow.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"approved": true,
		"rejected": false,
		"comment":  "ship it",
		"timedOut": false,
	}, res.Output)
}

func TestApproval_TimeoutActions(t *testing.T) {
	tests := []struct {
		action   workflow.TimeoutAction
		approved bool
	}{
		{workflow.TimeoutReject, false},
		{workflow.TimeoutApprove, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			manager := approval.NewManager(approval.NewMemoryStore(), zap.NewNop())
			e := newEngine(workflow.Dependencies{Approvals: manager})

			res, err := e.Run(context.Background(), approvalGraph(10, tt.action),
				map[string]any{"env": "dev"}, workflow.RunOptions{})
			require.NoError(t, err)
			assert.Equal(t, map[string]any{
				"approved": tt.approved,
				"rejected": !tt.approved,
				"timedOut": true,
			}, res.Output)
		})
	}
}

func TestApproval_TimeoutStop(t *testing.T) {
	manager := approval.NewManager(approval.NewMemoryStore(), zap.NewNop())
	e := newEngine(workflow.Dependencies{Approvals: manager})

	res, err := e.Run(context.Background(), approvalGraph(10, workflow.TimeoutStop),
		map[string]any{"env": "dev"}, workflow.RunOptions{})
	require.Error(t, err)
	assert.True(t, workflow.IsTimeout(err))
	assert.ErrorIs(t, err, approval.ErrTimeout)
	assert.Equal(t, "gate", res.Failure.NodeID)
}

// =============================================================================
// Sub-workflow
// =============================================================================

func subWorkflowNode(workflowID string, timeoutMs int, inputs ...workflow.Mapping) *workflow.SubWorkflowNode {
	n := &workflow.SubWorkflowNode{
		NodeBase:   fixtures.Base("sub", "child"),
		WorkflowID: workflowID,
		Timeout:    timeoutMs,
		Inputs:     inputs,
	}
	n.OutputSchema = workflow.ObjectSchema(workflow.Prop("greeting", stringSchema()))
	return n
}

func parentGraph(sub *workflow.SubWorkflowNode) *workflow.Graph {
	return fixtures.Linear(
		fixtures.Input("in", "name", "extra"),
		sub,
		fixtures.Output("out", fixtures.Map("greeting", "sub", "greeting")),
	)
}

func TestSubWorkflow_RunsChild(t *testing.T) {
	ctx := testutil.TestContext(t)
	repo := repository.NewMemoryRepository()
	require.NoError(t, repo.Save(ctx, &repository.Workflow{ID: "greet", Shared: true, Graph: fixtures.GreetingGraph()}))

	e := newEngine(workflow.Dependencies{Workflows: repo})
	sub := subWorkflowNode("greet", 1000, fixtures.Map("name", "in", "name"), fixtures.Map("extra", "in", "extra"))
	res, err := e.Run(ctx, parentGraph(sub), map[string]any{"name": "Ada", "extra": true}, workflow.RunOptions{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"greeting": "Hello, Ada!"}, res.Output)

	audit := inputOf(t, res, "sub")
	assert.Equal(t, "greet", audit["workflowId"])
	assert.Equal(t, map[string]any{"name": "Ada"}, audit["input"], "keys the child does not declare are dropped")
}

func TestSubWorkflow_AccessDenied(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	require.NoError(t, repo.Save(ctx, &repository.Workflow{ID: "greet", OwnerID: "alice", Graph: fixtures.GreetingGraph()}))

	e := newEngine(workflow.Dependencies{Workflows: repo})
	_, err := e.Run(ctx, parentGraph(subWorkflowNode("greet", 1000, fixtures.Map("name", "in", "name"))),
		map[string]any{"name": "x"}, workflow.RunOptions{UserID: "mallory"})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrForbidden))
}

func TestSubWorkflow_Timeout(t *testing.T) {
	ctx := context.Background()
	in := fixtures.Input("in")
	wait := &workflow.DelayNode{NodeBase: fixtures.Base("wait", "wait"), DelayType: workflow.DelayFixed, DelayMs: 1000}
	child := fixtures.Linear(in, wait, fixtures.Output("out", fixtures.Map("greeting", "wait", "delayMs")))

	repo := repository.NewMemoryRepository()
	require.NoError(t, repo.Save(ctx, &repository.Workflow{ID: "slow", Shared: true, Graph: child}))

	e := newEngine(workflow.Dependencies{Workflows: repo})
	start := time.Now()
	_, err := e.Run(ctx, parentGraph(subWorkflowNode("slow", 30)), map[string]any{}, workflow.RunOptions{})
	require.Error(t, err)
	assert.True(t, workflow.IsTimeout(err))
	assert.Contains(t, err.Error(), "sub-workflow slow timeout")
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestSubWorkflow_DepthLimit(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	self := parentGraph(subWorkflowNode("loop", 5000, fixtures.Map("name", "in", "name")))
	require.NoError(t, repo.Save(ctx, &repository.Workflow{ID: "loop", Shared: true, Graph: self}))

	e := newEngine(workflow.Dependencies{Workflows: repo}, workflow.WithMaxDepth(2))
	_, err := e.RunWorkflow(ctx, "loop", map[string]any{"name": "x"}, workflow.RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum depth of 2")
}

func TestSubWorkflow_Missing(t *testing.T) {
	e := newEngine(workflow.Dependencies{Workflows: repository.NewMemoryRepository()})
	_, err := e.Run(context.Background(), parentGraph(subWorkflowNode("ghost", 1000)), map[string]any{}, workflow.RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

// =============================================================================
// Code, multi-agent, delay
// =============================================================================

func TestCode_RunsWithMappedInputs(t *testing.T) {
	in := fixtures.Input("in", "a", "words")
	code := &workflow.CodeNode{
		NodeBase: fixtures.Base("calc", "calc"),
		Language: "javascript",
		Code:     `return {doubled: a * 2, joined: inputs.words.join("-")}`,
		Timeout:  1000,
		InputMappings: []workflow.Mapping{
			fixtures.Map("a", "in", "a"),
			fixtures.Map("words", "in", "words"),
		},
	}
	out := fixtures.Output("out", fixtures.Map("result", "calc", "result"))

	e := newEngine(workflow.Dependencies{})
	res, err := e.Run(context.Background(), fixtures.Linear(in, code, out),
		map[string]any{"a": 21.0, "words": []any{"x", "y"}}, workflow.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": map[string]any{"doubled": 42.0, "joined": "x-y"}}, res.Output)
}

func TestCode_CompileError(t *testing.T) {
	in := fixtures.Input("in")
	code := &workflow.CodeNode{NodeBase: fixtures.Base("calc", "calc"), Language: "javascript", Code: "return (", Timeout: 1000}
	out := fixtures.Output("out", fixtures.Map("result", "calc", "result"))

	e := newEngine(workflow.Dependencies{})
	_, err := e.Run(context.Background(), fixtures.Linear(in, code, out), nil, workflow.RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code compilation failed")
}

func TestCode_Timeout(t *testing.T) {
	in := fixtures.Input("in")
	code := &workflow.CodeNode{
		NodeBase: fixtures.Base("calc", "spin"),
		Language: "javascript",
		Code:     `let i = 0; while (true) { i++ }`,
		Timeout:  20,
	}
	out := fixtures.Output("out", fixtures.Map("result", "calc", "result"))

	opts := workflow.DefaultOptions()
	opts.CodeMaxSteps = 1 << 40
	e := newEngine(workflow.Dependencies{}, workflow.WithOptions(opts))

	start := time.Now()
	res, err := e.Run(context.Background(), fixtures.Linear(in, code, out), nil, workflow.RunOptions{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, workflow.IsTimeout(err))
	assert.Contains(t, err.Error(), "code execution timeout after 20ms")
	assert.Equal(t, workflow.RunFailed, res.Status)
	assert.Equal(t, "calc", res.Failure.NodeID)
}

func TestCode_MemoryLimit(t *testing.T) {
	in := fixtures.Input("in")
	code := &workflow.CodeNode{
		NodeBase: fixtures.Base("calc", "grow"),
		Language: "javascript",
		Code:     `const f = (s, n) => n == 0 ? s : f(s + s, n - 1); return f("x", 40).length`,
		Timeout:  5000,
	}
	out := fixtures.Output("out", fixtures.Map("result", "calc", "result"))

	opts := workflow.DefaultOptions()
	opts.CodeMaxBytes = 1 << 20
	e := newEngine(workflow.Dependencies{}, workflow.WithOptions(opts))

	_, err := e.Run(context.Background(), fixtures.Linear(in, code, out), nil, workflow.RunOptions{})
	require.Error(t, err)
	assert.False(t, workflow.IsTimeout(err))
	assert.ErrorIs(t, err, expr.ErrMemoryLimit)
	assert.True(t, types.IsErrorCode(err, types.ErrExecution))
}

func multiAgentGraph(agent2 string) *workflow.Graph {
	in := fixtures.Input("in", "topic")
	talk := &workflow.MultiAgentNode{
		NodeBase: fixtures.Base("talk", "debate"),
		Agent1ID: "planner",
		Agent2ID: agent2,
		Task:     workflow.Text("review {{input.topic}}"),
		MaxTurns: 3,
	}
	out := fixtures.Output("out",
		fixtures.Map("result", "talk", "result"),
		fixtures.Map("turns", "talk", "turns"),
		fixtures.Map("thread", "talk", "threadId"),
	)
	return fixtures.Linear(in, talk, out)
}

func TestMultiAgent_Conversation(t *testing.T) {
	runner := mocks.NewMockMultiAgentRunner()
	e := newEngine(workflow.Dependencies{MultiAgent: runner})

	res, err := e.Run(context.Background(), multiAgentGraph("critic"), map[string]any{"topic": "the plan"}, workflow.RunOptions{})
	require.NoError(t, err)

	out := res.Output.(map[string]any)
	assert.Equal(t, "planner and critic finished: review the plan", out["result"])
	assert.Equal(t, 3, out["turns"])

	requests := runner.Requests()
	require.Len(t, requests, 1)
	assert.NotEmpty(t, requests[0].ThreadID)
	assert.Equal(t, requests[0].ThreadID, out["thread"])
}

func TestMultiAgent_RequiresBothAgents(t *testing.T) {
	runner := mocks.NewMockMultiAgentRunner()
	e := newEngine(workflow.Dependencies{MultiAgent: runner})

	_, err := e.Run(context.Background(), multiAgentGraph(""), map[string]any{"topic": "x"}, workflow.RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both agents must be selected")
	assert.Empty(t, runner.Requests())
}

func TestDelay_Dynamic(t *testing.T) {
	in := fixtures.Input("in", "wait")
	d := &workflow.DelayNode{NodeBase: fixtures.Base("d", "d"), DelayType: workflow.DelayDynamic, DynamicSource: fixtures.Ref("in", "wait")}
	out := fixtures.Output("out", fixtures.Map("ms", "d", "delayMs"))

	e := newEngine(workflow.Dependencies{})
	start := time.Now()
	res, err := e.Run(context.Background(), fixtures.Linear(in, d, out), map[string]any{"wait": "15"}, workflow.RunOptions{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	assert.Equal(t, map[string]any{"ms": 15.0}, res.Output)
}
