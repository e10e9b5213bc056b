package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRetryer_SucceedsFirstTry(t *testing.T) {
	r := New(FixedPolicy(3, 0), zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func(int) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls, "应该只调用一次")
}

func TestRetryer_RetryThenSuccess(t *testing.T) {
	r := New(FixedPolicy(3, time.Millisecond), zap.NewNop())

	got, err := Do(context.Background(), r, func(attempt int) (int, error) {
		if attempt < 3 {
			return 0, errors.New("temporary")
		}
		return attempt, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestRetryer_Exhausted(t *testing.T) {
	var retries []int
	p := FixedPolicy(2, 0)
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { retries = append(retries, attempt) }
	r := New(p, nil)

	boom := errors.New("boom")
	calls := 0
	err := r.Do(context.Background(), func(int) error {
		calls++
		return boom
	})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestRetryer_NonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	p := FixedPolicy(5, 0)
	p.ShouldRetry = func(err error) bool { return !errors.Is(err, fatal) }
	r := New(p, nil)

	calls := 0
	err := r.Do(context.Background(), func(int) error {
		calls++
		return fatal
	})

	assert.Equal(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_ContextCanceledDuringDelay(t *testing.T) {
	r := New(FixedPolicy(3, time.Hour), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Do(ctx, func(int) error { return errors.New("x") })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryer_Delay(t *testing.T) {
	r := New(Policy{MaxRetries: 5, InitialDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, Multiplier: 2}, nil)

	assert.Equal(t, 10*time.Millisecond, r.delay(1))
	assert.Equal(t, 20*time.Millisecond, r.delay(2))
	assert.Equal(t, 40*time.Millisecond, r.delay(3))
	assert.Equal(t, 40*time.Millisecond, r.delay(4))

	fixed := New(FixedPolicy(3, 5*time.Millisecond), nil)
	assert.Equal(t, 5*time.Millisecond, fixed.delay(3))
}
