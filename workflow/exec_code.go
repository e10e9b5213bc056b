package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/flowengine/types"
	"github.com/BaSui01/flowengine/workflow/expr"
)

func (e *Engine) execCode(ctx context.Context, n *CodeNode, state *RuntimeState) (Result, error) {
	if lang := strings.ToLower(strings.TrimSpace(n.Language)); lang != "javascript" {
		return Result{}, types.NewExecutionError(fmt.Sprintf("unsupported code language %q", n.Language), nil)
	}

	inputs := make(map[string]any, len(n.InputMappings))
	for _, m := range n.InputMappings {
		key := strings.TrimSpace(m.Key)
		if key == "" || m.Source == nil {
			continue
		}
		if v, ok := state.Resolve(*m.Source); ok {
			inputs[key] = v
		} else {
			inputs[key] = nil
		}
	}
	vars := make(map[string]any, len(inputs)+1)
	for k, v := range inputs {
		vars[k] = v
	}
	vars["inputs"] = inputs
	audit := map[string]any{"inputs": inputs}

	prog, err := expr.Compile(n.Code)
	if err != nil {
		return Result{Input: audit}, types.NewExecutionError("code compilation failed", err)
	}

	timeout := time.Duration(n.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = e.opts.CodeTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := prog.Run(runCtx, vars, expr.Options{MaxSteps: e.opts.CodeMaxSteps, MaxBytes: e.opts.CodeMaxBytes})
	if err != nil {
		if ctx.Err() != nil {
			return Result{Input: audit}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{Input: audit}, types.NewTimeoutError(
				fmt.Sprintf("code execution timeout after %dms", timeout.Milliseconds())).WithCause(err)
		}
		return Result{Input: audit}, types.NewExecutionError("code execution failed", err)
	}
	return Result{Input: audit, Output: map[string]any{"result": result}}, nil
}
