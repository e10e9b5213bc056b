package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/BaSui01/flowengine/workflow"
)

// MockMultiAgentRunner 是 workflow.MultiAgentRunner 的模拟实现，
// 按 MaxTurns 轮流拼接两个 Agent 的发言
type MockMultiAgentRunner struct {
	mu       sync.Mutex
	err      error
	requests []workflow.MultiAgentRequest
}

// NewMockMultiAgentRunner 创建新的 MockMultiAgentRunner
func NewMockMultiAgentRunner() *MockMultiAgentRunner {
	return &MockMultiAgentRunner{}
}

// WithError 设置返回错误
func (m *MockMultiAgentRunner) WithError(err error) *MockMultiAgentRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Run 记录请求并返回确定性的对话结果
func (m *MockMultiAgentRunner) Run(ctx context.Context, req workflow.MultiAgentRequest) (*workflow.MultiAgentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.requests = append(m.requests, req)
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	turns := req.MaxTurns
	if turns <= 0 {
		turns = 1
	}
	return &workflow.MultiAgentResult{
		Result:   fmt.Sprintf("%s and %s finished: %s", req.Agent1ID, req.Agent2ID, req.Task),
		Turns:    turns,
		ThreadID: req.ThreadID,
	}, nil
}

// Requests 返回收到的请求
func (m *MockMultiAgentRunner) Requests() []workflow.MultiAgentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]workflow.MultiAgentRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

var _ workflow.MultiAgentRunner = (*MockMultiAgentRunner)(nil)
