package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/types"
)

var errUpstream = errors.New("connection reset")

func failing(context.Context) error    { return errUpstream }
func succeeding(context.Context) error { return nil }

// openBreaker 返回已打开的熔断器
func openBreaker(t *testing.T, cfg *Config) *Breaker {
	t.Helper()
	b := NewCircuitBreaker(cfg, zap.NewNop())
	for i := 0; i < b.Config().Threshold; i++ {
		require.ErrorIs(t, b.Call(t.Context(), failing), errUpstream)
	}
	require.Equal(t, StateOpen, b.State())
	return b
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		want Config
	}{
		{"nil config", nil, *DefaultConfig()},
		{"zero values", &Config{HalfOpenMaxCalls: -1}, *DefaultConfig()},
		{
			"custom values",
			&Config{Threshold: 3, Timeout: 5 * time.Second, ResetTimeout: 10 * time.Second, HalfOpenMaxCalls: 1},
			Config{Threshold: 3, Timeout: 5 * time.Second, ResetTimeout: 10 * time.Second, HalfOpenMaxCalls: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewCircuitBreaker(tt.cfg, nil)
			got := b.Config()
			assert.Equal(t, tt.want.Threshold, got.Threshold)
			assert.Equal(t, tt.want.Timeout, got.Timeout)
			assert.Equal(t, tt.want.ResetTimeout, got.ResetTimeout)
			assert.Equal(t, tt.want.HalfOpenMaxCalls, got.HalfOpenMaxCalls)
			assert.Equal(t, StateClosed, b.State())
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Closed", StateClosed.String())
	assert.Equal(t, "Open", StateOpen.String())
	assert.Equal(t, "HalfOpen", StateHalfOpen.String())
	assert.Equal(t, "Unknown", State(9).String())
	assert.Equal(t, "Unknown", State(-1).String())
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker(&Config{Threshold: 3, ResetTimeout: time.Hour}, nil)

	for i := 0; i < 2; i++ {
		require.Error(t, b.Call(t.Context(), failing))
		assert.Equal(t, StateClosed, b.State())
	}
	require.Error(t, b.Call(t.Context(), failing))
	assert.Equal(t, StateOpen, b.State())

	var called bool
	err := b.Call(t.Context(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewCircuitBreaker(&Config{Threshold: 2}, nil)

	require.Error(t, b.Call(t.Context(), failing))
	require.NoError(t, b.Call(t.Context(), succeeding))
	require.Error(t, b.Call(t.Context(), failing))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	b := openBreaker(t, &Config{Threshold: 1, ResetTimeout: 10 * time.Millisecond})
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Call(t.Context(), succeeding))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b := openBreaker(t, &Config{Threshold: 1, ResetTimeout: 10 * time.Millisecond})
	time.Sleep(20 * time.Millisecond)

	require.ErrorIs(t, b.Call(t.Context(), failing), errUpstream)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Call(t.Context(), succeeding), ErrCircuitOpen)
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	b := openBreaker(t, &Config{Threshold: 1, ResetTimeout: 10 * time.Millisecond, HalfOpenMaxCalls: 1})
	time.Sleep(20 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Call(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	assert.Equal(t, StateHalfOpen, b.State())
	assert.ErrorIs(t, b.Call(t.Context(), succeeding), ErrTooManyCallsInHalfOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ClientErrorsDoNotCount(t *testing.T) {
	b := NewCircuitBreaker(&Config{Threshold: 1}, nil)
	invalid := types.NewError(types.ErrInvalidRequest, "bad prompt")

	err := b.Call(t.Context(), func(context.Context) error { return invalid })
	assert.ErrorIs(t, err, invalid)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_CallerCancellationDoesNotCount(t *testing.T) {
	b := NewCircuitBreaker(&Config{Threshold: 1}, nil)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := b.Call(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_CallTimeoutCounts(t *testing.T) {
	b := NewCircuitBreaker(&Config{Threshold: 1, Timeout: 10 * time.Millisecond, ResetTimeout: time.Hour}, nil)

	err := b.Call(t.Context(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_OnStateChange(t *testing.T) {
	type change struct{ from, to State }
	changes := make(chan change, 4)
	b := openBreaker(t, &Config{
		Threshold:    1,
		ResetTimeout: 10 * time.Millisecond,
		OnStateChange: func(from, to State) {
			changes <- change{from, to}
		},
	})
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.Call(t.Context(), succeeding))

	got := make(map[change]bool)
	for i := 0; i < 3; i++ {
		select {
		case c := <-changes:
			got[c] = true
		case <-time.After(time.Second):
			t.Fatal("missing state change")
		}
	}
	assert.True(t, got[change{StateClosed, StateOpen}])
	assert.True(t, got[change{StateOpen, StateHalfOpen}])
	assert.True(t, got[change{StateHalfOpen, StateClosed}])
}

func TestBreaker_Reset(t *testing.T) {
	b := openBreaker(t, &Config{Threshold: 2, ResetTimeout: time.Hour})

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	require.Error(t, b.Call(t.Context(), failing))
	assert.Equal(t, StateClosed, b.State(), "failure count starts over after reset")
}

func TestExecute_ReturnsValue(t *testing.T) {
	b := NewCircuitBreaker(nil, nil)

	n, err := Execute(b, t.Context(), func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	s, err := Execute(b, t.Context(), func(context.Context) (string, error) { return "", errUpstream })
	assert.ErrorIs(t, err, errUpstream)
	assert.Empty(t, s)
}

func TestBreaker_ConcurrentCalls(t *testing.T) {
	b := NewCircuitBreaker(&Config{Threshold: 1000}, nil)
	var ok atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fn := succeeding
			if i%2 == 0 {
				fn = failing
			}
			if b.Call(context.Background(), fn) == nil {
				ok.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(25), ok.Load())
	assert.Equal(t, StateClosed, b.State())
}
