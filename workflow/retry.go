package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/internal/retry"
)

// withRetry decorates next with the node's error handling policy: up to
// MaxRetries further attempts spaced RetryDelayMs apart, then OnFailure.
// "continue" and "fallback" substitute FallbackValue for the output; "stop"
// returns the last error. Cancellation of ctx is never swallowed.
func withRetry(next Executor, policy ErrorHandling, logger *zap.Logger, onRetry func(attempt int, err error)) Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, node Node, state *RuntimeState) (Result, error) {
		var last Result
		r := retry.New(retry.Policy{
			MaxRetries:   policy.MaxRetries,
			InitialDelay: time.Duration(policy.RetryDelayMs) * time.Millisecond,
			Multiplier:   1,
			ShouldRetry:  func(error) bool { return ctx.Err() == nil },
			OnRetry: func(attempt int, err error, delay time.Duration) {
				logger.Warn("retrying node",
					zap.String("run_id", state.RunID),
					zap.String("node_id", node.Base().ID),
					zap.String("node_kind", string(node.Kind())),
					zap.Int("attempt", attempt+1),
					zap.Duration("delay", delay),
					zap.Error(err))
				if onRetry != nil {
					onRetry(attempt, err)
				}
			},
		}, logger)

		res, err := retry.Do(ctx, r, func(int) (Result, error) {
			res, err := next(ctx, node, state)
			if res.Input != nil {
				last.Input = res.Input
			}
			return res, err
		})
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return last, err
		}

		switch policy.OnFailure {
		case FailureContinue, FailureFallback:
			logger.Warn("node failed, using fallback value",
				zap.String("run_id", state.RunID),
				zap.String("node_id", node.Base().ID),
				zap.String("on_failure", string(policy.OnFailure)),
				zap.Error(err))
			return Result{Input: last.Input, Output: policy.FallbackValue}, nil
		}
		return last, err
	}
}
