package main

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/llm/tools"
)

func newBuiltinRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry(zap.NewNop())
	require.NoError(t, registerBuiltinTools(r))
	return r
}

func TestBuiltinTools_Registered(t *testing.T) {
	r := newBuiltinRegistry(t)
	names := make([]string, 0)
	for _, s := range r.List() {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{"current_time", "uuid", "count_tokens"}, names)

	assert.Error(t, registerBuiltinTools(r), "duplicate registration")
}

func TestBuiltinTools_CurrentTime(t *testing.T) {
	r := newBuiltinRegistry(t)

	res, err := r.Call(t.Context(), "current_time", map[string]any{"timezone": "UTC"})
	require.NoError(t, err)
	require.False(t, res.IsError)
	out := res.Content.(map[string]any)
	assert.Contains(t, out["time"], "Z")
	assert.Positive(t, out["unix"])

	res, err = r.Call(t.Context(), "current_time", map[string]any{"timezone": "Mars/Olympus"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Error, "unknown timezone")
}

func TestBuiltinTools_UUID(t *testing.T) {
	r := newBuiltinRegistry(t)

	res, err := r.Call(t.Context(), "uuid", nil)
	require.NoError(t, err)
	_, perr := uuid.Parse(res.Content.(map[string]any)["uuid"].(string))
	assert.NoError(t, perr)
}

func TestBuiltinTools_CountTokens(t *testing.T) {
	r := newBuiltinRegistry(t)

	res, err := r.Call(t.Context(), "count_tokens", map[string]any{"text": "hello world, this is a test"})
	require.NoError(t, err)
	require.False(t, res.IsError, res.Error)
	out := res.Content.(map[string]any)
	assert.Equal(t, "gpt-4o-mini", out["model"])
	assert.Positive(t, out["tokens"])

	res, err = r.Call(t.Context(), "count_tokens", map[string]any{"text": 42})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
