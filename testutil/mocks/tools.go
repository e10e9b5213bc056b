// MockToolManager 的托管工具测试模拟实现。
//
// 实现 tools.Manager，支持按工具名注册函数、预设结果与错误注入。
package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/BaSui01/flowengine/llm/tools"
)

// --- MockToolManager 结构 ---

// ToolFunc 工具执行函数类型
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// MockToolManager 是托管工具管理器的模拟实现
type MockToolManager struct {
	mu sync.RWMutex

	toolFuncs   map[string]ToolFunc
	toolResults map[string]any
	toolErrors  map[string]error
	// 以 Result.IsError 形式返回的工具失败
	toolFailures map[string]string

	// 调用记录
	calls []ToolCall

	defaultError error
}

// ToolCall 记录单次工具调用
type ToolCall struct {
	Ref    tools.Ref
	Args   map[string]any
	Result *tools.Result
	Error  error
}

// --- 构造函数和 Builder 方法 ---

// NewMockToolManager 创建新的 MockToolManager
func NewMockToolManager() *MockToolManager {
	return &MockToolManager{
		toolFuncs:    make(map[string]ToolFunc),
		toolResults:  make(map[string]any),
		toolErrors:   make(map[string]error),
		toolFailures: make(map[string]string),
	}
}

// WithTool 注册工具执行函数；函数返回的错误转换为 IsError 结果
func (m *MockToolManager) WithTool(name string, fn ToolFunc) *MockToolManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolFuncs[name] = fn
	return m
}

// WithToolResult 设置工具的固定返回内容
func (m *MockToolManager) WithToolResult(name string, result any) *MockToolManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolResults[name] = result
	return m
}

// WithToolError 设置工具调用本身返回的错误（传输层失败）
func (m *MockToolManager) WithToolError(name string, err error) *MockToolManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolErrors[name] = err
	return m
}

// WithToolFailure 设置工具以 IsError 结果报告失败
func (m *MockToolManager) WithToolFailure(name, message string) *MockToolManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolFailures[name] = message
	return m
}

// WithDefaultError 设置未注册工具的返回错误
func (m *MockToolManager) WithDefaultError(err error) *MockToolManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultError = err
	return m
}

// --- tools.Manager 接口实现 ---

// Call 按 ref.Name 查找工具并执行
func (m *MockToolManager) Call(ctx context.Context, ref tools.Ref, args map[string]any) (*tools.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	fn := m.toolFuncs[ref.Name]
	result, hasResult := m.toolResults[ref.Name]
	toolErr := m.toolErrors[ref.Name]
	failure, hasFailure := m.toolFailures[ref.Name]
	defaultErr := m.defaultError
	m.mu.RUnlock()

	var (
		res *tools.Result
		err error
	)
	switch {
	case toolErr != nil:
		err = toolErr
	case hasFailure:
		res = &tools.Result{IsError: true, Error: failure}
	case fn != nil:
		out, fnErr := fn(ctx, args)
		if fnErr != nil {
			res = &tools.Result{IsError: true, Error: fnErr.Error()}
		} else {
			res = &tools.Result{Content: out}
		}
	case hasResult:
		res = &tools.Result{Content: result}
	case defaultErr != nil:
		err = defaultErr
	default:
		err = errors.New("mock tool manager: tool not found: " + ref.Name)
	}

	m.mu.Lock()
	m.calls = append(m.calls, ToolCall{Ref: ref, Args: args, Result: res, Error: err})
	m.mu.Unlock()
	return res, err
}

// --- 查询方法 ---

// GetCalls 返回所有调用记录
func (m *MockToolManager) GetCalls() []ToolCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ToolCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// GetCallCount 返回调用次数
func (m *MockToolManager) GetCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// GetLastCall 返回最后一次调用
func (m *MockToolManager) GetLastCall() *ToolCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return nil
	}
	c := m.calls[len(m.calls)-1]
	return &c
}

// Reset 清空调用记录
func (m *MockToolManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

var _ tools.Manager = (*MockToolManager)(nil)
