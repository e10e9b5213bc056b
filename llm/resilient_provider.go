package llm

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/internal/retry"
	"github.com/BaSui01/flowengine/llm/circuitbreaker"
	"github.com/BaSui01/flowengine/types"
)

// ResilientConfig 弹性 Provider 配置
type ResilientConfig struct {
	MaxRetries   int           // 上游错误的最大重试次数
	InitialDelay time.Duration // 首次重试前的等待
	MaxDelay     time.Duration // 退避上限

	// Breaker 为空时不启用熔断
	Breaker *circuitbreaker.Config
}

// DefaultResilientConfig 返回默认配置
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Breaker:      circuitbreaker.DefaultConfig(),
	}
}

// ResilientProvider 为底层 Provider 增加重试与熔断，实现同样的 Provider 接口。
// 每次尝试都经过熔断器；熔断打开或客户端错误时不再重试。
type ResilientProvider struct {
	provider Provider
	retryer  *retry.Retryer
	breaker  *circuitbreaker.Breaker
	logger   *zap.Logger
}

// NewResilientProvider 创建具有弹性能力的 Provider
func NewResilientProvider(provider Provider, cfg ResilientConfig, logger *zap.Logger) *ResilientProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("provider", provider.Name()))

	rp := &ResilientProvider{provider: provider, logger: logger}
	if cfg.Breaker != nil {
		rp.breaker = circuitbreaker.NewCircuitBreaker(cfg.Breaker, logger)
	}
	rp.retryer = retry.New(retry.Policy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   2,
		Jitter:       true,
		ShouldRetry:  shouldRetryCompletion,
	}, logger)
	return rp
}

func (p *ResilientProvider) Name() string { return p.provider.Name() }

// Breaker 暴露熔断器，供健康检查读取状态
func (p *ResilientProvider) Breaker() *circuitbreaker.Breaker { return p.breaker }

func (p *ResilientProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := retry.Do(ctx, p.retryer, func(attempt int) (*ChatResponse, error) {
		if p.breaker == nil {
			return p.provider.Completion(ctx, req)
		}
		return circuitbreaker.Execute(p.breaker, ctx, func(ctx context.Context) (*ChatResponse, error) {
			return p.provider.Completion(ctx, req)
		})
	})
	if err == nil {
		return resp, nil
	}

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		p.logger.Warn("completion failed after retries",
			zap.Int("attempts", exhausted.Attempts),
			zap.String("trace_id", req.TraceID),
			zap.Error(exhausted.Err),
		)
		// 保留上游的错误码，便于调用方分类
		return nil, exhausted.Err
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyCallsInHalfOpen) {
		return nil, types.NewError(types.ErrServiceUnavailable, "model provider unavailable").
			WithCause(err).
			WithRetryable(true)
	}
	return nil, err
}

// shouldRetryCompletion 只重试上游/超时类错误；无错误码的未知错误也重试一次机会
func shouldRetryCompletion(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyCallsInHalfOpen) {
		return false
	}
	if _, ok := types.AsError(err); ok {
		return types.IsRetryable(err)
	}
	return true
}
