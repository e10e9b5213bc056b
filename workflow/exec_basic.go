package workflow

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/BaSui01/flowengine/types"
)

func (e *Engine) execInput(_ *InputNode, state *RuntimeState) (Result, error) {
	return Result{Output: state.Payload()}, nil
}

// execOutput builds the run result. Keys whose source is undefined are left
// out, as they would be when the object is serialized.
func (e *Engine) execOutput(n *OutputNode, state *RuntimeState) (Result, error) {
	out := make(map[string]any, len(n.OutputData))
	for _, d := range n.OutputData {
		if d.Source == nil {
			continue
		}
		if v, ok := state.Resolve(*d.Source); ok {
			out[d.Key] = v
		}
	}
	return Result{Output: out}, nil
}

func (e *Engine) execTemplate(n *TemplateNode, state *RuntimeState) (Result, error) {
	return Result{Output: map[string]any{"template": n.Template.Render(state)}}, nil
}

func (e *Engine) execCondition(n *ConditionNode, state *RuntimeState) (Result, error) {
	branch, err := SelectBranch(n.Branches, state.Resolve)
	if err != nil {
		return Result{}, types.NewExecutionError("condition evaluation failed", err)
	}
	next := []string{}
	for _, edge := range state.Graph.OutEdges(n.ID) {
		if edge.SourceHandle == branch.ID {
			next = append(next, edge.Target)
		}
	}
	return Result{Output: map[string]any{
		"type":      string(branch.Type),
		"branch":    branch.ID,
		"nextNodes": next,
	}}, nil
}

func (e *Engine) execDelay(ctx context.Context, n *DelayNode, state *RuntimeState) (Result, error) {
	ms := float64(n.DelayMs)
	if n.DelayType == DelayDynamic {
		if n.DynamicSource == nil {
			return Result{}, types.NewExecutionError("dynamic delay has no source", nil)
		}
		v, ok := state.Resolve(*n.DynamicSource)
		num, isNum := toNumber(v)
		if !ok || !isNum || math.IsInf(num, 0) || num < 0 {
			return Result{}, types.NewExecutionError(
				fmt.Sprintf("dynamic delay must resolve to a non-negative number, got %v", v), nil)
		}
		ms = num
	}
	if ms > maxDelayMs {
		return Result{}, types.NewExecutionError(fmt.Sprintf("delay %vms exceeds the maximum of %dms", ms, maxDelayMs), nil)
	}

	d := time.Duration(ms * float64(time.Millisecond))
	input := map[string]any{"delayMs": ms}
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return Result{Input: input}, ctx.Err()
		}
	}
	return Result{Input: input, Output: map[string]any{"delayMs": ms}}, nil
}
