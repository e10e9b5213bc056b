package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/types"
)

var (
	ErrCircuitOpen            = errors.New("circuit breaker is open")
	ErrTooManyCallsInHalfOpen = errors.New("too many calls while circuit is half-open")
)

// State 熔断器状态，数值用于指标上报
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"Closed", "Open", "HalfOpen"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// Config 熔断器配置，零值字段取 DefaultConfig 的值
type Config struct {
	// Threshold 连续失败多少次后打开
	Threshold int
	// Timeout 单次调用上限，超时计为失败
	Timeout time.Duration
	// ResetTimeout 打开后多久放行试探调用
	ResetTimeout time.Duration
	// HalfOpenMaxCalls 半开时允许同时进行的试探调用数
	HalfOpenMaxCalls int
	// OnStateChange 在独立 goroutine 中调用
	OnStateChange func(from, to State)
}

func DefaultConfig() *Config {
	return &Config{
		Threshold:        5,
		Timeout:          30 * time.Second,
		ResetTimeout:     60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	return c
}

// Breaker 保护模型提供方调用。连续上游失败达到阈值后快速失败，
// 冷却结束后放行少量试探调用，任一成功即恢复。
type Breaker struct {
	config *Config
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
}

// NewCircuitBreaker config 为 nil 时使用默认配置
func NewCircuitBreaker(config *Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		config: config.withDefaults(),
		logger: logger.With(zap.String("component", "circuit_breaker")),
	}
}

func (b *Breaker) Config() Config { return *b.config }

// outcome 一次调用对熔断器的影响
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	// outcomeIgnored 调用方取消，不计成败，只归还试探名额
	outcomeIgnored
)

// Call 执行 fn。fn 收到带单次超时的 ctx，应透传给下游请求。
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Execute(b, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Execute 经熔断器执行 fn 并返回其结果
func Execute[T any](b *Breaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.acquire(); err != nil {
		return zero, err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(callCtx)
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		b.settle(classify(ctx, res.err))
		return res.v, res.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			b.settle(outcomeIgnored)
			return zero, err
		}
		b.settle(outcomeFailure)
		return zero, fmt.Errorf("call timeout after %s: %w", b.config.Timeout, callCtx.Err())
	}
}

func classify(ctx context.Context, err error) outcome {
	switch {
	case err == nil:
		return outcomeSuccess
	case ctx.Err() != nil:
		return outcomeIgnored
	case isClientError(err):
		// 请求本身有误，与提供方健康无关
		return outcomeSuccess
	}
	return outcomeFailure
}

func isClientError(err error) bool {
	switch types.GetErrorCode(err) {
	case types.ErrInvalidRequest, types.ErrToolValidation, types.ErrForbidden,
		types.ErrValidation, types.ErrProviderNotSet:
		return true
	}
	return false
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if time.Since(b.openedAt) <= b.config.ResetTimeout {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.logger.Info("circuit half-open, probing")
	}
	if b.state == StateHalfOpen {
		if b.probes >= b.config.HalfOpenMaxCalls {
			return ErrTooManyCallsInHalfOpen
		}
		b.probes++
	}
	return nil
}

func (b *Breaker) settle(o outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	halfOpen := b.state == StateHalfOpen
	switch o {
	case outcomeIgnored:
		if halfOpen && b.probes > 0 {
			b.probes--
		}
	case outcomeSuccess:
		b.failures = 0
		if halfOpen {
			b.logger.Info("circuit closed", zap.Int("probes", b.probes))
			b.transition(StateClosed)
		}
	case outcomeFailure:
		b.failures++
		switch {
		case halfOpen:
			b.logger.Warn("probe failed, circuit reopened", zap.Int("probes", b.probes))
			b.trip()
		case b.state == StateClosed && b.failures >= b.config.Threshold:
			b.logger.Warn("circuit opened",
				zap.Int("failure_count", b.failures),
				zap.Int("threshold", b.config.Threshold),
			)
			b.trip()
		}
	}
}

// trip 调用方需持有 b.mu
func (b *Breaker) trip() {
	b.openedAt = time.Now()
	b.transition(StateOpen)
}

// transition 调用方需持有 b.mu。离开半开状态时清空试探计数。
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if to != StateHalfOpen {
		b.probes = 0
	}
	if to == StateClosed {
		b.failures = 0
	}
	if from != to && b.config.OnStateChange != nil {
		go b.config.OnStateChange(from, to)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动恢复到关闭状态
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger.Info("circuit reset", zap.Stringer("from_state", b.state))
	b.transition(StateClosed)
}
