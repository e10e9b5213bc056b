package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/flowengine/llm"
)

// ToolFunc defines the built-in tool function signature.
type ToolFunc func(ctx context.Context, params map[string]any) (any, error)

// ToolMetadata describes tool metadata.
type ToolMetadata struct {
	Schema    llm.ToolSchema   // Tool JSON Schema
	RateLimit *RateLimitConfig // Rate limit config (optional)
	Timeout   time.Duration    // Execution timeout (default 30s)
}

// RateLimitConfig defines rate limit configuration.
type RateLimitConfig struct {
	MaxCalls int           // Maximum calls
	Window   time.Duration // Time window
}

// ====== 实现：Registry ======

// Registry 是进程内置（app）工具的注册中心，按工具 ID 索引。
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]ToolFunc
	metadata map[string]ToolMetadata
	limiters map[string]*rate.Limiter // 工具级别的速率限制器
	logger   *zap.Logger
}

// NewRegistry 创建内置工具注册中心。
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:    make(map[string]ToolFunc),
		metadata: make(map[string]ToolMetadata),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger.With(zap.String("component", "tool_registry")),
	}
}

func (r *Registry) Register(name string, fn ToolFunc, metadata ToolMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}

	// 校验 Schema
	if metadata.Schema.Name == "" {
		metadata.Schema.Name = name
	}
	if metadata.Schema.Name != name {
		return fmt.Errorf("tool name mismatch: schema.Name=%s, register name=%s", metadata.Schema.Name, name)
	}

	// 设置默认超时
	if metadata.Timeout == 0 {
		metadata.Timeout = 30 * time.Second
	}

	r.tools[name] = fn
	r.metadata[name] = metadata

	// 令牌桶：窗口内最多 MaxCalls 次，允许一次性突发到上限
	if rl := metadata.RateLimit; rl != nil && rl.MaxCalls > 0 && rl.Window > 0 {
		r.limiters[name] = rate.NewLimiter(rate.Limit(float64(rl.MaxCalls)/rl.Window.Seconds()), rl.MaxCalls)
	}

	r.logger.Info("tool registered", zap.String("name", name), zap.Duration("timeout", metadata.Timeout))
	return nil
}

func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool %s not found", name)
	}
	delete(r.tools, name)
	delete(r.metadata, name)
	delete(r.limiters, name)

	r.logger.Info("tool unregistered", zap.String("name", name))
	return nil
}

func (r *Registry) Get(name string) (ToolFunc, ToolMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.tools[name]
	if !ok {
		return nil, ToolMetadata{}, fmt.Errorf("tool %s not found", name)
	}
	return fn, r.metadata[name], nil
}

// List 返回按名称排序的工具 Schema
func (r *Registry) List() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]llm.ToolSchema, 0, len(r.metadata))
	for _, meta := range r.metadata {
		schemas = append(schemas, meta.Schema)
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Call 执行内置工具。工具自身的失败以 Result.IsError 返回；
// 未注册、限流与超时则作为 error 返回。
func (r *Registry) Call(ctx context.Context, name string, params map[string]any) (*Result, error) {
	fn, meta, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	limiter := r.limiters[name]
	r.mu.RUnlock()
	if limiter != nil && !limiter.Allow() {
		r.logger.Warn("rate limit exceeded", zap.String("name", name))
		return nil, fmt.Errorf("tool %s: rate limit exceeded", name)
	}

	start := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, meta.Timeout)
	defer cancel()

	// 使用带缓冲的 channel 防止 goroutine 泄漏
	type outcome struct {
		res any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := fn(execCtx, params)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			r.logger.Error("tool execution failed",
				zap.String("name", name),
				zap.Error(o.err),
				zap.Duration("duration", time.Since(start)))
			return &Result{IsError: true, Error: o.err.Error()}, nil
		}
		r.logger.Debug("tool executed",
			zap.String("name", name),
			zap.Duration("duration", time.Since(start)))
		return &Result{Content: o.res}, nil

	case <-execCtx.Done():
		r.logger.Error("tool execution timeout",
			zap.String("name", name),
			zap.Duration("timeout", meta.Timeout))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("tool %s: execution timeout after %s", name, meta.Timeout)
	}
}
