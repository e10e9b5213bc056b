package workflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func historyIDs(h []NodeRuntimeHistory) []string {
	ids := make([]string, 0, len(h))
	for _, r := range h {
		ids = append(ids, r.NodeID)
	}
	return ids
}

func branchingGraph() *Graph {
	in := inputNode("in", "score")
	cond := &ConditionNode{
		NodeBase: NodeBase{ID: "cond", Name: "cond"},
		Branches: []ConditionBranch{
			{ID: "high", Type: BranchIf, Conditions: []Condition{
				{Operator: OpGreaterThan, Source: ref("in", "score"), Value: 50},
			}},
			{ID: "low", Type: BranchElse},
		},
	}
	hi := templateNode("hi", "high {{input.score}}")
	lo := templateNode("lo", "low {{input.score}}")
	out := outputNode("out", mapping("hi", "hi", "template"), mapping("lo", "lo", "template"))
	return NewGraph(
		[]Node{in, cond, hi, lo, out},
		[]Edge{
			edge("in", "cond"),
			handleEdge("cond", "high", "hi"),
			handleEdge("cond", "low", "lo"),
			edge("hi", "out"),
			edge("lo", "out"),
		},
	)
}

func TestDriver_ConditionSkipsUntakenBranch(t *testing.T) {
	e := newTestEngine(t, Dependencies{})

	res, err := e.Run(context.Background(), branchingGraph(), map[string]any{"score": 90}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, res.Status)
	assert.Equal(t, map[string]any{"hi": "high 90"}, res.Output)
	assert.ElementsMatch(t, []string{"in", "cond", "hi", "out"}, historyIDs(res.History))

	res, err = e.Run(context.Background(), branchingGraph(), map[string]any{"score": 10}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"lo": "low 10"}, res.Output)
	assert.NotContains(t, historyIDs(res.History), "hi")
}

func TestDriver_ConditionOutputAndNextNodes(t *testing.T) {
	e := newTestEngine(t, Dependencies{})
	g := branchingGraph()
	state := NewRuntimeState(g, map[string]any{"score": 70})
	require.NoError(t, e.runPlan(context.Background(), state, newPlan(g, nil)))

	out, ok := state.Output("cond")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"type": "if", "branch": "high", "nextNodes": []string{"hi"}}, out)
}

func TestDriver_StallWhenOutputUnreachable(t *testing.T) {
	in := inputNode("in", "flag")
	cond := &ConditionNode{
		NodeBase: NodeBase{ID: "cond", Name: "cond"},
		Branches: []ConditionBranch{
			{ID: "yes", Type: BranchIf, Conditions: []Condition{{Operator: OpIsTrue, Source: ref("in", "flag")}}},
			{ID: "no", Type: BranchElse},
		},
	}
	a := templateNode("a", "a")
	b := templateNode("b", "b")
	out := outputNode("out", mapping("r", "a", "template"))
	g := NewGraph([]Node{in, cond, a, b, out}, []Edge{
		edge("in", "cond"),
		handleEdge("cond", "yes", "a"),
		handleEdge("cond", "no", "b"),
		edge("a", "out"),
	})

	e := newTestEngine(t, Dependencies{})
	res, err := e.Run(context.Background(), g, map[string]any{"flag": false}, RunOptions{})
	require.Error(t, err)
	assert.True(t, IsStall(err))
	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Empty(t, re.NodeID)

	require.NotNil(t, res)
	assert.Equal(t, RunFailed, res.Status)
	assert.Nil(t, res.Output)
	assert.Contains(t, historyIDs(res.History), "b")
	assert.Contains(t, err.Error(), "skipped on untaken branches: [a out]")
}

func TestDriver_ConditionFallbackWithoutBranchNamesPrunedOutput(t *testing.T) {
	in := inputNode("in", "flag")
	cond := &ConditionNode{
		NodeBase: NodeBase{ID: "cond", Name: "cond"},
		Branches: []ConditionBranch{
			{ID: "yes", Type: BranchIf, Conditions: []Condition{{Operator: OpIsTrue, Source: ref("in", "flag")}}},
		},
	}
	cond.ErrorHandling = &ErrorHandling{
		Enabled:       true,
		OnFailure:     FailureContinue,
		FallbackValue: map[string]any{"type": "fallback"},
	}
	a := templateNode("a", "a")
	out := outputNode("out", mapping("r", "a", "template"))
	g := NewGraph([]Node{in, cond, a, out}, []Edge{
		edge("in", "cond"),
		handleEdge("cond", "yes", "a"),
		edge("a", "out"),
	})

	e := newTestEngine(t, Dependencies{})
	_, err := e.Run(context.Background(), g, map[string]any{"flag": false}, RunOptions{})
	require.Error(t, err)
	assert.True(t, IsStall(err))
	assert.Contains(t, err.Error(), "unresolved: []")
	assert.Contains(t, err.Error(), "skipped on untaken branches: [a out]")

	cond.ErrorHandling.FallbackValue = map[string]any{"type": "fallback", "branch": "yes"}
	res, err := e.Run(context.Background(), g, map[string]any{"flag": false}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"r": "a"}, res.Output)
}

func TestDriver_FailureNamesNode(t *testing.T) {
	in := inputNode("in", "wait")
	d := &DelayNode{NodeBase: NodeBase{ID: "d", Name: "wait"}, DelayType: DelayDynamic, DynamicSource: ref("in", "wait")}
	out := outputNode("out", mapping("ms", "d", "delayMs"))
	g := NewGraph([]Node{in, d, out}, chain(in, d, out))

	e := newTestEngine(t, Dependencies{})
	res, err := e.Run(context.Background(), g, map[string]any{"wait": "soon"}, RunOptions{WorkflowID: "wf"})
	require.Error(t, err)

	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "d", re.NodeID)
	assert.Equal(t, KindDelay, re.NodeKind)

	assert.Equal(t, RunFailed, res.Status)
	require.NotNil(t, res.Failure)
	assert.Equal(t, "d", res.Failure.NodeID)
	assert.Equal(t, "wait", res.Failure.NodeName)

	last := res.History[len(res.History)-1]
	assert.Equal(t, "d", last.NodeID)
	assert.Equal(t, NodeFail, last.Status)
	assert.NotEmpty(t, last.Error)
	assert.NotContains(t, historyIDs(res.History), "out")
}

func TestDriver_NothingDispatchedAfterOutput(t *testing.T) {
	in := inputNode("in", "x")
	out := outputNode("out", mapping("x", "in", "x"))
	slow := &DelayNode{NodeBase: NodeBase{ID: "slow", Name: "slow"}, DelayType: DelayFixed, DelayMs: 50}
	g := NewGraph([]Node{in, out, slow}, []Edge{edge("in", "out"), edge("in", "slow")})

	e := newTestEngine(t, Dependencies{}, WithMaxConcurrency(1))
	res, err := e.Run(context.Background(), g, map[string]any{"x": 1}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 1}, res.Output)
	assert.NotContains(t, historyIDs(res.History), "slow")
}

func TestDriver_MaxConcurrency(t *testing.T) {
	var (
		current atomic.Int32
		peak    atomic.Int32
		mu      sync.Mutex
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := current.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		current.Add(-1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	in := inputNode("in")
	nodes := []Node{in}
	var edges []Edge
	for _, id := range []string{"h1", "h2", "h3", "h4"} {
		nodes = append(nodes, &HTTPNode{NodeBase: NodeBase{ID: id, Name: id}, Method: "GET", URL: &RichText{Text: srv.URL}})
		edges = append(edges, edge("in", id), edge(id, "out"))
	}
	nodes = append(nodes, outputNode("out", mapping("status", "h1", "status")))

	e := newTestEngine(t, Dependencies{HTTPClient: srv.Client()}, WithMaxConcurrency(2))
	res, err := e.Run(context.Background(), NewGraph(nodes, edges), nil, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": http.StatusOK}, res.Output)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Len(t, res.History, 6)
}

func TestPlan_ExcludesLoopBodiesAndNotes(t *testing.T) {
	loop := &LoopNode{NodeBase: NodeBase{ID: "loop", Name: "loop"}, ArraySource: ref("in", "items"),
		ItemVariable: "item", MaxIterations: 10, Mode: LoopSequential}
	g := NewGraph(
		[]Node{
			inputNode("in", "items"), loop, templateNode("body", "{{loop.item}}"),
			&NoteNode{NodeBase: NodeBase{ID: "note", Name: "note"}},
			outputNode("out", mapping("r", "loop", "results")),
		},
		[]Edge{edge("in", "loop"), handleEdge("loop", "each", "body"), handleEdge("loop", LoopDoneHandle, "out")},
	)

	main := newPlan(g, nil)
	assert.True(t, main.member["loop"])
	assert.False(t, main.member["body"])
	assert.False(t, main.member["note"])
	assert.True(t, main.hasOutput)

	body := newPlan(g, g.LoopBody("loop"))
	assert.Equal(t, map[string]bool{"body": true}, body.member)
	require.Len(t, body.sinks(g), 1)
	assert.Equal(t, "body", body.sinks(g)[0].Base().ID)
}

func TestEdgeLive(t *testing.T) {
	cond := &ConditionNode{}
	loop := &LoopNode{}
	tpl := &TemplateNode{}

	assert.True(t, edgeLive(cond, Edge{SourceHandle: "a"}, map[string]any{"branch": "a"}))
	assert.False(t, edgeLive(cond, Edge{SourceHandle: "b"}, map[string]any{"branch": "a"}))
	assert.False(t, edgeLive(cond, Edge{SourceHandle: ""}, map[string]any{}))
	assert.True(t, edgeLive(loop, Edge{SourceHandle: LoopDoneHandle}, nil))
	assert.False(t, edgeLive(loop, Edge{SourceHandle: "body"}, nil))
	assert.True(t, edgeLive(tpl, Edge{}, nil))
}
