package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/internal/ctxkeys"
	"github.com/BaSui01/flowengine/llm"
	"github.com/BaSui01/flowengine/llm/tools"
	"github.com/BaSui01/flowengine/types"
	"github.com/BaSui01/flowengine/workflow/approval"
	"github.com/BaSui01/flowengine/workflow/storage"
)

// ApprovalChannel blocks an Approval node until a decision or the timeout.
// *approval.Manager implements it.
type ApprovalChannel interface {
	Wait(ctx context.Context, opts approval.Options) (*approval.Response, error)
}

// AppToolCaller calls built-in tools by id. *tools.Registry implements it.
type AppToolCaller interface {
	Call(ctx context.Context, id string, params map[string]any) (*tools.Result, error)
}

// Dependencies are the collaborators executors call out to. Any of them may
// be nil; a node that needs a missing collaborator fails at run time.
type Dependencies struct {
	Model      llm.Provider
	Tools      tools.Manager
	AppTools   AppToolCaller
	Workflows  WorkflowRepository
	Storage    storage.Store
	Approvals  ApprovalChannel
	MultiAgent MultiAgentRunner
	HTTPClient *http.Client
	History    *HistoryStore
	Metrics    MetricsRecorder
	Tracer     trace.Tracer
	Logger     *zap.Logger
}

// Options tunes an Engine.
type Options struct {
	// RunTimeout bounds a top-level run; 0 disables it.
	RunTimeout time.Duration
	// MaxConcurrency caps the nodes of one plan that execute at once, and the
	// parallel iterations of one loop; 0 means unbounded.
	MaxConcurrency int
	// MaxDepth caps sub-workflow nesting.
	MaxDepth int

	HTTPTimeout        time.Duration
	CodeTimeout        time.Duration
	CodeMaxSteps       int
	CodeMaxBytes       int
	SubWorkflowTimeout time.Duration
	ApprovalTimeout    time.Duration
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		RunTimeout:         30 * time.Minute,
		MaxConcurrency:     8,
		MaxDepth:           5,
		HTTPTimeout:        30 * time.Second,
		CodeTimeout:        5 * time.Second,
		SubWorkflowTimeout: 5 * time.Minute,
		ApprovalTimeout:    10 * time.Minute,
	}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithOptions replaces all engine options.
func WithOptions(opts Options) Option {
	return func(e *Engine) { e.opts = opts }
}

// WithRunTimeout sets the top-level run timeout.
func WithRunTimeout(d time.Duration) Option {
	return func(e *Engine) { e.opts.RunTimeout = d }
}

// WithMaxConcurrency sets the per-plan concurrency limit.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) { e.opts.MaxConcurrency = n }
}

// WithMaxDepth sets the sub-workflow nesting limit.
func WithMaxDepth(n int) Option {
	return func(e *Engine) { e.opts.MaxDepth = n }
}

// Engine validates and runs workflow graphs. It holds no per-run state and
// is safe for concurrent use.
type Engine struct {
	deps       Dependencies
	opts       Options
	logger     *zap.Logger
	tracer     trace.Tracer
	metrics    MetricsRecorder
	httpClient *http.Client
}

// NewEngine creates an engine over deps.
func NewEngine(deps Dependencies, options ...Option) *Engine {
	e := &Engine{deps: deps, opts: DefaultOptions()}
	for _, opt := range options {
		opt(e)
	}

	e.logger = deps.Logger
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("component", "workflow_engine"))
	e.tracer = deps.Tracer
	if e.tracer == nil {
		e.tracer = otel.Tracer("github.com/BaSui01/flowengine/workflow")
	}
	e.metrics = deps.Metrics
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	e.httpClient = deps.HTTPClient
	if e.httpClient == nil {
		e.httpClient = &http.Client{}
	}

	defaults := DefaultOptions()
	if e.opts.MaxDepth <= 0 {
		e.opts.MaxDepth = defaults.MaxDepth
	}
	if e.opts.HTTPTimeout <= 0 {
		e.opts.HTTPTimeout = defaults.HTTPTimeout
	}
	if e.opts.CodeTimeout <= 0 {
		e.opts.CodeTimeout = defaults.CodeTimeout
	}
	if e.opts.SubWorkflowTimeout <= 0 {
		e.opts.SubWorkflowTimeout = defaults.SubWorkflowTimeout
	}
	if e.opts.ApprovalTimeout <= 0 {
		e.opts.ApprovalTimeout = defaults.ApprovalTimeout
	}
	return e
}

// RunOptions identify and bound one run.
type RunOptions struct {
	WorkflowID string
	UserID     string
	// Timeout overrides the engine run timeout when positive.
	Timeout time.Duration
}

// Validate applies the per-node rules and the submit-time structure checks.
func (e *Engine) Validate(g *Graph) error {
	if g == nil {
		return &ValidationError{Message: "graph is nil"}
	}
	if err := ValidateAll(g.Nodes, g.Edges); err != nil {
		return err
	}
	return ValidateStructure(g)
}

// Run validates g and executes it with input as the invocation payload. On
// failure the result is still returned, carrying the partial history.
func (e *Engine) Run(ctx context.Context, g *Graph, input any, opts RunOptions) (*RunResult, error) {
	if err := e.Validate(g); err != nil {
		return nil, err
	}
	state := NewRuntimeState(g, input)
	state.RunID = uuid.NewString()
	state.WorkflowID = opts.WorkflowID
	state.UserID = opts.UserID

	timeout := e.opts.RunTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	return e.run(ctx, state, timeout)
}

// RunWorkflow loads workflowID from the repository, checks that opts.UserID
// may run it and runs it.
func (e *Engine) RunWorkflow(ctx context.Context, workflowID string, input any, opts RunOptions) (*RunResult, error) {
	if e.deps.Workflows == nil {
		return nil, types.NewExecutionError("workflow repository is not configured", nil)
	}
	allowed, err := e.deps.Workflows.CheckAccess(ctx, workflowID, opts.UserID)
	if err != nil {
		return nil, fmt.Errorf("check access to workflow %s: %w", workflowID, err)
	}
	if !allowed {
		return nil, types.NewError(types.ErrForbidden, fmt.Sprintf("access to workflow %s denied", workflowID))
	}
	g, err := e.deps.Workflows.GetStructure(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	opts.WorkflowID = workflowID
	return e.Run(ctx, g, input, opts)
}

// run drives an already validated state to completion. timeout <= 0 means
// the run is bounded by ctx alone.
func (e *Engine) run(ctx context.Context, state *RuntimeState, timeout time.Duration) (*RunResult, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	runCtx = ctxkeys.WithRunID(runCtx, state.RunID)
	runCtx = ctxkeys.WithWorkflowID(runCtx, state.WorkflowID)
	runCtx = ctxkeys.WithUserID(runCtx, state.UserID)
	runCtx, span := e.tracer.Start(runCtx, "workflow.run",
		trace.WithAttributes(
			attribute.String("workflow.run_id", state.RunID),
			attribute.String("workflow.id", state.WorkflowID),
			attribute.Int("workflow.depth", state.depth),
		))
	defer span.End()

	logger := e.logger.With(zap.String("run_id", state.RunID), zap.String("workflow_id", state.WorkflowID))
	logger.Info("workflow run started", zap.Int("nodes", len(state.Graph.Nodes)), zap.Int("depth", state.depth))

	start := time.Now()
	err := e.runPlan(runCtx, state, newPlan(state.Graph, nil))
	end := time.Now()

	if err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = runTimeout(state.RunID, timeout, err)
	}

	result := &RunResult{
		RunID:      state.RunID,
		WorkflowID: state.WorkflowID,
		UserID:     state.UserID,
		Status:     RunCompleted,
		History:    state.History(),
		Inputs:     state.Inputs(),
		StartedAt:  start,
		EndedAt:    end,
		Duration:   end.Sub(start),
	}
	if out, ok := state.Graph.OutputNode(); ok {
		result.Output, _ = state.Output(out.Base().ID)
	}
	if err != nil {
		result.Status = RunFailed
		result.Output = nil
		result.Failure = &RunFailure{Message: err.Error()}
		var re *RunError
		if errors.As(err, &re) {
			result.Failure.NodeID, result.Failure.NodeName, result.Failure.NodeKind = re.NodeID, re.NodeName, re.NodeKind
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("workflow run failed", zap.Duration("duration", result.Duration), zap.Error(err))
	} else {
		logger.Info("workflow run completed", zap.Duration("duration", result.Duration))
	}

	e.metrics.RecordRun(string(result.Status), result.Duration)
	if e.deps.History != nil {
		e.deps.History.Save(result)
	}
	return result, err
}

// runTimeout marks err as caused by the run deadline, keeping the failing
// node when one is known.
func runTimeout(runID string, timeout time.Duration, err error) error {
	te := types.NewTimeoutError(fmt.Sprintf("workflow run timeout after %s", timeout))
	var re *RunError
	if errors.As(err, &re) {
		wrapped := *re
		wrapped.Err = te.WithCause(re.Err)
		return &wrapped
	}
	return &RunError{RunID: runID, Err: te.WithCause(err)}
}
