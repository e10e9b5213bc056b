package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/flowengine/llm"
)

// CompletionFunc 自定义一次模型调用的结果
type CompletionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

// MockProvider 是 llm.Provider 的模拟实现，供 LLM 节点与弹性包装测试使用。
// 默认返回 "Mock response"，用量 10/20。
type MockProvider struct {
	mu       sync.Mutex
	reply    llm.Message
	usage    llm.ChatUsage
	err      error
	delay    time.Duration
	fn       CompletionFunc
	requests []*llm.ChatRequest
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		reply: llm.Message{Role: llm.RoleAssistant, Content: "Mock response"},
		usage: llm.ChatUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}
}

func (m *MockProvider) with(apply func()) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply()
	return m
}

func (m *MockProvider) WithResponse(content string) *MockProvider {
	return m.with(func() { m.reply.Content = content })
}

// WithToolCalls 回复中携带工具调用，finish_reason 为 tool_calls
func (m *MockProvider) WithToolCalls(calls []llm.ToolCall) *MockProvider {
	return m.with(func() { m.reply.ToolCalls = calls })
}

// WithTokenUsage 设为 0/0 可模拟不返回用量的提供方
func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	return m.with(func() {
		m.usage = llm.ChatUsage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
	})
}

// WithError 每次调用都返回 err
func (m *MockProvider) WithError(err error) *MockProvider {
	return m.with(func() { m.err = err })
}

// WithDelay 回复前等待 d，ctx 取消时提前返回
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	return m.with(func() { m.delay = d })
}

// WithCompletionFunc 优先级高于固定回复，但低于 WithError
func (m *MockProvider) WithCompletionFunc(fn CompletionFunc) *MockProvider {
	return m.with(func() { m.fn = fn })
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	delay := m.delay
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	err, fn, reply, usage := m.err, m.fn, m.reply, m.usage
	m.mu.Unlock()

	switch {
	case err != nil:
		return nil, err
	case fn != nil:
		return fn(ctx, req)
	}

	finish := "stop"
	if len(reply.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	return &llm.ChatResponse{
		ID:        "mock-response-id",
		Provider:  "mock",
		Model:     req.Model,
		Choices:   []llm.ChatChoice{{FinishReason: finish, Message: reply}},
		Usage:     usage,
		CreatedAt: time.Now(),
	}, nil
}

// CallCount 包含失败与被取消的调用
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest 尚未调用时返回 nil
func (m *MockProvider) LastRequest() *llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}
