package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy 定义重试策略配置
// 与 LLM 调用不同，工作流节点允许零延迟与固定间隔重试
type Policy struct {
	MaxRetries   int                                               // 最大重试次数（0 表示不重试，总尝试次数为 1+MaxRetries）
	InitialDelay time.Duration                                     // 初始延迟时间（0 表示立即重试）
	MaxDelay     time.Duration                                     // 最大延迟时间（0 表示不限制）
	Multiplier   float64                                           // 延迟倍增因子，1 表示固定间隔
	Jitter       bool                                              // 是否添加 ±25% 随机抖动
	ShouldRetry  func(err error) bool                              // 为空则重试所有错误
	OnRetry      func(attempt int, err error, delay time.Duration) // 重试回调
}

// FixedPolicy 返回固定间隔、无抖动的重试策略
func FixedPolicy(maxRetries int, delay time.Duration) Policy {
	return Policy{
		MaxRetries:   maxRetries,
		InitialDelay: delay,
		Multiplier:   1,
	}
}

// ExhaustedError 表示所有尝试均已失败
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retryer 基于指数退避的重试器
type Retryer struct {
	policy Policy
	logger *zap.Logger
}

// New 创建重试器
func New(policy Policy, logger *zap.Logger) *Retryer {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay < 0 {
		policy.InitialDelay = 0
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 1.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retryer{policy: policy, logger: logger}
}

// Do 执行函数，失败时根据策略重试
func (r *Retryer) Do(ctx context.Context, fn func(attempt int) error) error {
	_, err := Do(ctx, r, func(attempt int) (struct{}, error) {
		return struct{}{}, fn(attempt)
	})
	return err
}

// Do 执行 fn 并返回类型化结果。attempt 从 1 开始计数。
// 重试次数耗尽时返回 *ExhaustedError；不可重试的错误原样返回。
func Do[T any](ctx context.Context, r *Retryer, fn func(attempt int) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	p := r.policy

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		// 第一次执行不延迟
		if attempt > 0 {
			delay := r.delay(attempt)

			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", p.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if p.OnRetry != nil {
				p.OnRetry(attempt, lastErr, delay)
			}

			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return zero, ctx.Err()
				case <-timer.C:
				}
			} else if err := ctx.Err(); err != nil {
				return zero, err
			}
		}

		result, err := fn(attempt + 1)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if p.ShouldRetry != nil && !p.ShouldRetry(err) {
			r.logger.Debug("错误不可重试", zap.Error(err))
			return zero, err
		}
	}

	r.logger.Debug("重试次数耗尽",
		zap.Int("attempts", p.MaxRetries+1),
		zap.Error(lastErr),
	)
	return zero, &ExhaustedError{Attempts: p.MaxRetries + 1, Err: lastErr}
}

// delay 计算第 attempt 次重试前的等待时间
func (r *Retryer) delay(attempt int) time.Duration {
	p := r.policy
	if p.InitialDelay == 0 {
		return 0
	}

	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}

	// 添加随机抖动（±25%）
	if p.Jitter {
		jitter := d * 0.25
		d = d + (rand.Float64()*2-1)*jitter
	}
	if d < float64(p.InitialDelay) {
		d = float64(p.InitialDelay)
	}
	return time.Duration(d)
}
