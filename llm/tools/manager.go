package tools

import "context"

// Ref identifies a tool served by a managed tool server.
type Ref struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ServerID string `json:"serverId,omitempty"`
}

// Result is the normalized outcome of a tool call.
type Result struct {
	IsError bool   `json:"isError"`
	Error   string `json:"error,omitempty"`
	Content any    `json:"content,omitempty"`
}

// Manager calls tools hosted behind a managed tool protocol (for example
// MCP servers). The connection lifecycle is owned by the implementation.
type Manager interface {
	Call(ctx context.Context, ref Ref, params map[string]any) (*Result, error)
}

// ManagerFunc adapts a function to Manager.
type ManagerFunc func(ctx context.Context, ref Ref, params map[string]any) (*Result, error)

func (f ManagerFunc) Call(ctx context.Context, ref Ref, params map[string]any) (*Result, error) {
	return f(ctx, ref, params)
}
