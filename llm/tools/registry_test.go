package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistry_RegisterAndCall(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Register("echo", func(_ context.Context, p map[string]any) (any, error) {
		return p["text"], nil
	}, ToolMetadata{}))

	assert.True(t, r.Has("echo"))
	assert.Error(t, r.Register("echo", nil, ToolMetadata{}), "重复注册应报错")

	res, err := r.Call(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "hi", res.Content)

	_, meta, err := r.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, meta.Timeout)
	assert.Equal(t, "echo", meta.Schema.Name)
}

func TestRegistry_ToolErrorIsResult(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("boom", func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("exploded")
	}, ToolMetadata{}))

	res, err := r.Call(context.Background(), "boom", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "exploded", res.Error)
}

func TestRegistry_UnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Call(context.Background(), "missing", nil)
	assert.Error(t, err)
	assert.Error(t, r.Unregister("missing"))
}

func TestRegistry_Timeout(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("slow", func(ctx context.Context, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, ToolMetadata{Timeout: 10 * time.Millisecond}))

	_, err := r.Call(context.Background(), "slow", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestRegistry_RateLimit(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("limited", func(context.Context, map[string]any) (any, error) {
		return "ok", nil
	}, ToolMetadata{RateLimit: &RateLimitConfig{MaxCalls: 2, Window: time.Hour}}))

	for i := 0; i < 2; i++ {
		_, err := r.Call(context.Background(), "limited", nil)
		require.NoError(t, err)
	}
	_, err := r.Call(context.Background(), "limited", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry(nil)
	noop := func(context.Context, map[string]any) (any, error) { return nil, nil }
	require.NoError(t, r.Register("b", noop, ToolMetadata{}))
	require.NoError(t, r.Register("a", noop, ToolMetadata{}))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	require.NoError(t, r.Unregister("a"))
	assert.False(t, r.Has("a"))
}
