package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/BaSui01/flowengine/internal/ctxkeys"
	"github.com/BaSui01/flowengine/types"
)

// ErrEmptyResponse is returned when a provider answers without any choice.
var ErrEmptyResponse = errors.New("llm returned no choices")

// TextResult is the result of plain text generation.
type TextResult struct {
	Text  string    `json:"text"`
	Usage ChatUsage `json:"usage"`
}

// ObjectResult is the result of schema-constrained generation.
type ObjectResult struct {
	Object any       `json:"object"`
	Usage  ChatUsage `json:"usage"`
}

// ToolCallResult carries the arguments the model produced for a forced tool call.
type ToolCallResult struct {
	Arguments map[string]any `json:"arguments"`
	Usage     ChatUsage      `json:"usage"`
}

// GenerateText asks the provider for free text.
func GenerateText(ctx context.Context, p Provider, model string, messages []Message) (*TextResult, error) {
	if p == nil {
		return nil, types.NewError(types.ErrProviderNotSet, "model provider is not configured")
	}
	resp, err := p.Completion(ctx, newRequest(ctx, model, messages))
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	return &TextResult{Text: resp.Choices[0].Message.Content, Usage: resp.Usage}, nil
}

// GenerateObject asks the provider for a JSON value matching schema and decodes it.
func GenerateObject(ctx context.Context, p Provider, model string, messages []Message, schema json.RawMessage) (*ObjectResult, error) {
	if p == nil {
		return nil, types.NewError(types.ErrProviderNotSet, "model provider is not configured")
	}
	req := newRequest(ctx, model, messages)
	req.ResponseFormat = &ResponseFormat{
		Type:   "json_schema",
		Name:   "response",
		Schema: schema,
	}
	resp, err := p.Completion(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	var obj any
	raw := stripCodeFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("decode structured output: %w", err)
	}
	return &ObjectResult{Object: obj, Usage: resp.Usage}, nil
}

// GenerateToolCall forces the model to call tool and returns the decoded arguments.
func GenerateToolCall(ctx context.Context, p Provider, model string, messages []Message, tool ToolSchema) (*ToolCallResult, error) {
	if p == nil {
		return nil, types.NewError(types.ErrProviderNotSet, "model provider is not configured")
	}
	req := newRequest(ctx, model, messages)
	req.Tools = []ToolSchema{tool}
	req.ToolChoice = tool.Name
	resp, err := p.Completion(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	for _, call := range resp.Choices[0].Message.ToolCalls {
		if call.Name != tool.Name {
			continue
		}
		args := map[string]any{}
		if len(call.Arguments) > 0 {
			if err := json.Unmarshal(call.Arguments, &args); err != nil {
				return nil, types.NewError(types.ErrToolValidation, "invalid tool arguments").WithCause(err)
			}
		}
		return &ToolCallResult{Arguments: args, Usage: resp.Usage}, nil
	}
	return nil, types.NewError(types.ErrToolValidation, fmt.Sprintf("model did not call tool %s", tool.Name))
}

// newRequest stamps the run identity carried by ctx onto the request.
func newRequest(ctx context.Context, model string, messages []Message) *ChatRequest {
	req := &ChatRequest{Model: model, Messages: messages}
	req.TraceID, _ = ctxkeys.TraceID(ctx)
	req.UserID, _ = ctxkeys.UserID(ctx)
	return req
}

// stripCodeFence removes a surrounding ```json fence some models emit.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
