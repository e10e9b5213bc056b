package testutil

import (
	"context"
	"testing"
	"time"
)

// runTimeout 单个测试内所有运行的总上限
const runTimeout = 30 * time.Second

// TestContext 返回随测试结束取消、最长 30 秒的上下文
func TestContext(t testing.TB) context.Context {
	ctx, cancel := context.WithTimeout(t.Context(), runTimeout)
	t.Cleanup(cancel)
	return ctx
}
