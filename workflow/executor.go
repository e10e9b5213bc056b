package workflow

import (
	"context"
	"fmt"
	"time"
)

// Result is what an executor produces. Output is published for downstream
// references; Input is recorded for audit only.
type Result struct {
	Input  any
	Output any
}

// Executor runs one node against the state of the current run.
type Executor func(ctx context.Context, node Node, state *RuntimeState) (Result, error)

// WorkflowRepository loads the structure of workflows invoked by SubWorkflow
// nodes and decides who may invoke them.
type WorkflowRepository interface {
	GetStructure(ctx context.Context, workflowID string) (*Graph, error)
	CheckAccess(ctx context.Context, workflowID, userID string) (bool, error)
}

// MultiAgentRequest starts a two-agent conversation.
type MultiAgentRequest struct {
	Agent1ID string
	Agent2ID string
	Task     string
	MaxTurns int
	ThreadID string
}

// MultiAgentResult is the outcome of a two-agent conversation.
type MultiAgentResult struct {
	Result   string
	Turns    int
	ThreadID string
}

// MultiAgentRunner runs the turn-taking conversation behind MultiAgent nodes.
type MultiAgentRunner interface {
	Run(ctx context.Context, req MultiAgentRequest) (*MultiAgentResult, error)
}

// MetricsRecorder receives run and node measurements.
type MetricsRecorder interface {
	RecordRun(status string, duration time.Duration)
	RecordNode(kind, status string, duration time.Duration)
	RecordRetry(kind string)
}

type nopMetrics struct{}

func (nopMetrics) RecordRun(string, time.Duration)          {}
func (nopMetrics) RecordNode(string, string, time.Duration) {}
func (nopMetrics) RecordRetry(string)                       {}

// execute dispatches node to the executor of its kind.
func (e *Engine) execute(ctx context.Context, node Node, state *RuntimeState) (Result, error) {
	switch n := node.(type) {
	case *InputNode:
		return e.execInput(n, state)
	case *OutputNode:
		return e.execOutput(n, state)
	case *LLMNode:
		return e.execLLM(ctx, n, state)
	case *ConditionNode:
		return e.execCondition(n, state)
	case *ToolNode:
		return e.execTool(ctx, n, state)
	case *HTTPNode:
		return e.execHTTP(ctx, n, state)
	case *TemplateNode:
		return e.execTemplate(n, state)
	case *MultiAgentNode:
		return e.execMultiAgent(ctx, n, state)
	case *CodeNode:
		return e.execCode(ctx, n, state)
	case *LoopNode:
		return e.execLoop(ctx, n, state)
	case *DelayNode:
		return e.execDelay(ctx, n, state)
	case *SubWorkflowNode:
		return e.execSubWorkflow(ctx, n, state)
	case *StorageNode:
		return e.execStorage(ctx, n, state)
	case *ApprovalNode:
		return e.execApproval(ctx, n, state)
	}
	return Result{}, fmt.Errorf("node kind %s is not executable", node.Kind())
}
