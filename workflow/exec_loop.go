package workflow

import (
	"context"
	"reflect"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/flowengine/types"
)

func (e *Engine) execLoop(ctx context.Context, n *LoopNode, state *RuntimeState) (Result, error) {
	if n.ArraySource == nil {
		return Result{}, types.NewExecutionError("loop array source is not configured", nil)
	}
	v, ok := state.Resolve(*n.ArraySource)
	items, isArray := toSlice(v)
	if !ok || !isArray {
		return Result{}, types.NewExecutionError("loop array source must resolve to an array", nil)
	}

	limit := n.MaxIterations
	if limit <= 0 || limit > maxLoopIterations {
		limit = maxLoopIterations
	}
	total := len(items)
	if len(items) > limit {
		items = items[:limit]
	}
	mode := n.Mode
	if mode == "" {
		mode = LoopSequential
	}
	input := map[string]any{"itemCount": total, "iterations": len(items), "mode": string(mode)}

	body := newPlan(state.Graph, state.Graph.LoopBody(n.ID))
	sinks := body.sinks(state.Graph)

	results := make([]any, len(items))
	failed := make(map[int]error)
	var mu sync.Mutex

	runIteration := func(ctx context.Context, i int) error {
		fork := state.Fork(i)
		fork.SetOutput(n.ID, loopBinding(n, items[i], i))
		err := e.runPlan(ctx, fork, body)

		outputs := fork.Outputs()
		collected := make(map[string]any, len(sinks))
		for _, s := range sinks {
			if out, ok := outputs[s.Base().ID]; ok {
				collected[s.Base().Name] = out
			}
		}
		entry := map[string]any{"index": i, "item": items[i], "output": collected}
		if err != nil {
			entry["error"] = err.Error()
		}
		mu.Lock()
		results[i] = entry
		if err != nil {
			failed[i] = err
		}
		mu.Unlock()
		return err
	}

	switch mode {
	case LoopParallel:
		// Iterations do not cancel each other; failures are collected per index.
		var g errgroup.Group
		if e.opts.MaxConcurrency > 0 {
			g.SetLimit(e.opts.MaxConcurrency)
		}
		for i := range items {
			g.Go(func() error {
				_ = runIteration(ctx, i)
				return nil
			})
		}
		_ = g.Wait()
	default:
		for i := range items {
			if err := runIteration(ctx, i); err != nil {
				results = results[:i+1]
				break
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{Input: input}, err
	}

	output := map[string]any{"results": results, "length": len(results), "failed": len(failed)}
	if len(failed) > 0 {
		e.logger.Warn("loop iterations failed",
			zap.String("run_id", state.RunID),
			zap.String("node_id", n.ID),
			zap.Int("failed", len(failed)),
			zap.Int("iterations", len(results)))
		return Result{Input: input, Output: output}, &LoopError{NodeID: n.ID, Failed: failed}
	}
	return Result{Input: input, Output: output}, nil
}

// loopBinding is what the loop node resolves to inside one iteration.
func loopBinding(n *LoopNode, item any, index int) map[string]any {
	b := map[string]any{"item": item, "index": index}
	if n.ItemVariable != "" {
		b[n.ItemVariable] = item
	}
	if n.IndexVariable != "" {
		b[n.IndexVariable] = index
	}
	return b
}

func toSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
