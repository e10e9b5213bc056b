// Package ctxkeys 定义在 context 中传递的运行标识
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	traceIDKey    contextKey = "trace_id"
	runIDKey      contextKey = "run_id"
	workflowIDKey contextKey = "workflow_id"
	userIDKey     contextKey = "user_id"
)

func with(ctx context.Context, key contextKey, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

func get(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return with(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID；未设置时退回 RunID
func TraceID(ctx context.Context) (string, bool) {
	if v, ok := get(ctx, traceIDKey); ok {
		return v, true
	}
	return get(ctx, runIDKey)
}

// WithRunID 设置当前运行 ID，子工作流会覆盖父运行的值
func WithRunID(ctx context.Context, runID string) context.Context {
	return with(ctx, runIDKey, runID)
}

func RunID(ctx context.Context) (string, bool) {
	return get(ctx, runIDKey)
}

func WithWorkflowID(ctx context.Context, workflowID string) context.Context {
	return with(ctx, workflowIDKey, workflowID)
}

func WorkflowID(ctx context.Context) (string, bool) {
	return get(ctx, workflowIDKey)
}

// WithUserID 设置发起运行的用户，空值表示系统调用
func WithUserID(ctx context.Context, userID string) context.Context {
	return with(ctx, userIDKey, userID)
}

func UserID(ctx context.Context) (string, bool) {
	return get(ctx, userIDKey)
}
