package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/flowengine/types"
	"github.com/BaSui01/flowengine/workflow/approval"
	"github.com/BaSui01/flowengine/workflow/storage"
)

// defaultStorageScope is used for runs that are not bound to a stored workflow.
const defaultStorageScope = "default"

func storageScope(state *RuntimeState) string {
	if state.WorkflowID != "" {
		return state.WorkflowID
	}
	return defaultStorageScope
}

func (e *Engine) execStorage(ctx context.Context, n *StorageNode, state *RuntimeState) (Result, error) {
	if e.deps.Storage == nil {
		return Result{}, types.NewExecutionError("storage backend is not configured", nil)
	}
	scope := storageScope(state)
	key := strings.TrimSpace(n.StorageKey.Render(state))
	input := map[string]any{"operation": string(n.Operation), "key": key}

	if key == "" && n.Operation != StorageList {
		return Result{Input: input}, types.NewExecutionError("storage key rendered empty", nil)
	}
	scoped := storage.ScopeKey(scope, key)

	switch n.Operation {
	case StorageGet:
		v, found, err := e.deps.Storage.Get(ctx, scoped)
		if err != nil {
			return Result{Input: input}, types.NewExecutionError("storage get failed", err)
		}
		out := map[string]any{"found": found, "key": key}
		if found {
			out["value"] = v
		}
		return Result{Input: input, Output: out}, nil

	case StorageSet:
		value, _ := resolveOperand(n.StorageValue, state)
		var ttl time.Duration
		if n.TTLMs != nil && *n.TTLMs > 0 {
			ttl = time.Duration(*n.TTLMs) * time.Millisecond
		}
		input["value"] = value
		input["ttlMs"] = ttl.Milliseconds()
		if err := e.deps.Storage.Set(ctx, scoped, value, ttl); err != nil {
			return Result{Input: input}, types.NewExecutionError("storage set failed", err)
		}
		return Result{Input: input, Output: map[string]any{"success": true, "key": key}}, nil

	case StorageDelete:
		deleted, err := e.deps.Storage.Delete(ctx, scoped)
		if err != nil {
			return Result{Input: input}, types.NewExecutionError("storage delete failed", err)
		}
		return Result{Input: input, Output: map[string]any{"deleted": deleted, "key": key}}, nil

	case StorageList:
		full, err := e.deps.Storage.List(ctx, scoped)
		if err != nil {
			return Result{Input: input}, types.NewExecutionError("storage list failed", err)
		}
		prefix := storage.ScopeKey(scope, "")
		keys := make([]string, 0, len(full))
		for _, k := range full {
			keys = append(keys, strings.TrimPrefix(k, prefix))
		}
		return Result{Input: input, Output: map[string]any{"keys": keys, "count": len(keys)}}, nil
	}
	return Result{Input: input}, types.NewExecutionError(fmt.Sprintf("unsupported storage operation %q", n.Operation), nil)
}

func (e *Engine) execApproval(ctx context.Context, n *ApprovalNode, state *RuntimeState) (Result, error) {
	if e.deps.Approvals == nil {
		return Result{}, types.NewExecutionError("approval manager is not configured", nil)
	}
	message := n.Message.Render(state)
	timeout := time.Duration(n.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = e.opts.ApprovalTimeout
	}
	input := map[string]any{"message": message, "timeoutMs": timeout.Milliseconds(), "onTimeout": string(n.OnTimeout)}

	resp, err := e.deps.Approvals.Wait(ctx, approval.Options{
		RunID:      state.RunID,
		WorkflowID: state.WorkflowID,
		UserID:     state.UserID,
		NodeID:     n.ID,
		NodeName:   n.Name,
		Message:    message,
		Timeout:    timeout,
	})
	switch {
	case errors.Is(err, approval.ErrTimeout):
		switch n.OnTimeout {
		case TimeoutApprove:
			return Result{Input: input, Output: approvalOutput(true, message, "", true)}, nil
		case TimeoutReject:
			return Result{Input: input, Output: approvalOutput(false, message, "", true)}, nil
		}
		return Result{Input: input}, types.NewTimeoutError(
			fmt.Sprintf("approval %s timeout after %dms", n.Name, timeout.Milliseconds())).WithCause(err)
	case err != nil:
		if ctx.Err() != nil {
			return Result{Input: input}, ctx.Err()
		}
		return Result{Input: input}, types.NewExecutionError("approval wait failed", err)
	}
	return Result{Input: input, Output: approvalOutput(resp.Approved, message, resp.Comment, false)}, nil
}

func approvalOutput(approved bool, message, comment string, timedOut bool) map[string]any {
	out := map[string]any{
		"approved": approved,
		"rejected": !approved,
		"message":  message,
		"timedOut": timedOut,
	}
	if comment != "" {
		out["comment"] = comment
	}
	return out
}
