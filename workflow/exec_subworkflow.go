package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/flowengine/types"
)

func (e *Engine) execSubWorkflow(ctx context.Context, n *SubWorkflowNode, state *RuntimeState) (Result, error) {
	if state.Depth() >= e.opts.MaxDepth {
		return Result{}, types.NewExecutionError(
			fmt.Sprintf("sub-workflow nesting exceeds the maximum depth of %d", e.opts.MaxDepth), nil)
	}
	if e.deps.Workflows == nil {
		return Result{}, types.NewExecutionError("workflow repository is not configured", nil)
	}

	allowed, err := e.deps.Workflows.CheckAccess(ctx, n.WorkflowID, state.UserID)
	if err != nil {
		return Result{}, types.NewExecutionError(fmt.Sprintf("check access to sub-workflow %s", n.WorkflowID), err)
	}
	if !allowed {
		return Result{}, types.NewError(types.ErrForbidden, fmt.Sprintf("access to sub-workflow %s denied", n.WorkflowID))
	}
	graph, err := e.deps.Workflows.GetStructure(ctx, n.WorkflowID)
	if err != nil {
		return Result{}, types.NewExecutionError(fmt.Sprintf("load sub-workflow %s", n.WorkflowID), err)
	}
	if err := e.Validate(graph); err != nil {
		return Result{}, types.NewExecutionError(fmt.Sprintf("sub-workflow %s is invalid", n.WorkflowID), err)
	}

	input := mapSubWorkflowInput(n.Inputs, graph, state)
	audit := map[string]any{"workflowId": n.WorkflowID, "input": input}

	timeout := time.Duration(n.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = e.opts.SubWorkflowTimeout
	}
	subCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	child := NewRuntimeState(graph, input)
	child.RunID = uuid.NewString()
	child.WorkflowID = n.WorkflowID
	child.UserID = state.UserID
	child.depth = state.depth + 1

	res, err := e.run(subCtx, child, 0)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Input: audit}, ctx.Err()
		}
		if errors.Is(subCtx.Err(), context.DeadlineExceeded) {
			return Result{Input: audit}, types.NewTimeoutError(
				fmt.Sprintf("sub-workflow %s timeout after %dms", n.WorkflowID, timeout.Milliseconds())).WithCause(err)
		}
		return Result{Input: audit}, types.NewExecutionError(fmt.Sprintf("sub-workflow %s failed", n.WorkflowID), err)
	}
	return Result{Input: audit, Output: res.Output}, nil
}

// mapSubWorkflowInput resolves the input mappings. When the target's Input
// node declares properties, keys it does not declare are dropped.
func mapSubWorkflowInput(mappings []Mapping, target *Graph, state *RuntimeState) map[string]any {
	var declared Properties
	if in, ok := target.InputNode(); ok && in.Base().OutputSchema != nil {
		declared = in.Base().OutputSchema.Properties
	}
	input := make(map[string]any, len(mappings))
	for _, m := range mappings {
		key := strings.TrimSpace(m.Key)
		if key == "" || m.Source == nil {
			continue
		}
		if len(declared) > 0 {
			if _, ok := declared.Get(key); !ok {
				continue
			}
		}
		if v, ok := state.Resolve(*m.Source); ok {
			input[key] = v
		}
	}
	return input
}
