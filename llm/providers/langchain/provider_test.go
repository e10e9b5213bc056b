package langchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/BaSui01/flowengine/llm"
	"github.com/BaSui01/flowengine/types"
)

// stubModel records what it was asked and answers with a canned response.
type stubModel struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	resp     *llms.ContentResponse
	err      error
}

func (s *stubModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	s.messages = messages
	for _, o := range options {
		o(&s.opts)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func (s *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s, prompt, options...)
}

func textResponse(text string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:    text,
		StopReason: "stop",
		GenerationInfo: map[string]any{
			"PromptTokens":     12,
			"CompletionTokens": 3,
			"TotalTokens":      15,
		},
	}}}
}

func TestProvider_Text(t *testing.T) {
	m := &stubModel{resp: textResponse("bonjour")}
	p := New(m, WithDefaultModel("gpt-test"))
	assert.Equal(t, "langchain", p.Name())

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "translate"},
			{Role: llm.RoleUser, Content: "hello"},
		},
		MaxTokens:   64,
		Temperature: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "bonjour", resp.Choices[0].Message.Content)
	assert.Equal(t, llm.RoleAssistant, resp.Choices[0].Message.Role)
	assert.Equal(t, llm.ChatUsage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}, resp.Usage)
	assert.Equal(t, "gpt-test", resp.Model)

	require.Len(t, m.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, m.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, m.messages[1].Role)
	assert.Equal(t, "gpt-test", m.opts.Model)
	assert.Equal(t, 64, m.opts.MaxTokens)
	assert.InDelta(t, 0.5, m.opts.Temperature, 1e-6)
}

func TestProvider_ToolCall(t *testing.T) {
	m := &stubModel{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		StopReason: "tool_calls",
		ToolCalls: []llms.ToolCall{{
			ID:           "call_1",
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: "search", Arguments: `{"q":"go"}`},
		}},
	}}}}
	p := New(m)

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "find go"}},
		Tools: []llm.ToolSchema{{
			Name:       "search",
			Parameters: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`),
		}},
		ToolChoice: "search",
	})
	require.NoError(t, err)
	calls := resp.Choices[0].Message.ToolCalls
	require.Len(t, calls, 1)
	assert.Equal(t, "search", calls[0].Name)
	assert.JSONEq(t, `{"q":"go"}`, string(calls[0].Arguments))

	require.Len(t, m.opts.Tools, 1)
	assert.Equal(t, "search", m.opts.Tools[0].Function.Name)
	assert.Equal(t, llms.ToolChoice{Type: "function", Function: &llms.FunctionReference{Name: "search"}}, m.opts.ToolChoice)
}

func TestProvider_ToolConversation(t *testing.T) {
	m := &stubModel{resp: textResponse("done")}
	p := New(m)

	_, err := p.Completion(context.Background(), &llm.ChatRequest{Messages: []llm.Message{
		{Role: llm.RoleUser, Content: "search"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "search", Arguments: json.RawMessage(`{}`)}}},
		{Role: llm.RoleTool, ToolCallID: "c1", Name: "search", Content: "result"},
	}})
	require.NoError(t, err)
	require.Len(t, m.messages, 3)
	assert.Equal(t, llms.ChatMessageTypeAI, m.messages[1].Role)
	assert.IsType(t, llms.ToolCall{}, m.messages[1].Parts[0])
	assert.Equal(t, llms.ChatMessageTypeTool, m.messages[2].Role)
	assert.Equal(t, llms.ToolCallResponse{ToolCallID: "c1", Name: "search", Content: "result"}, m.messages[2].Parts[0])
}

func TestProvider_ResponseFormat(t *testing.T) {
	m := &stubModel{resp: textResponse(`{"city":"Paris"}`)}
	p := New(m)

	_, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages:       []llm.Message{{Role: llm.RoleUser, Content: "capital of France"}},
		ResponseFormat: &llm.ResponseFormat{Type: "json_schema", Schema: json.RawMessage(`{"type":"object"}`)},
	})
	require.NoError(t, err)
	assert.True(t, m.opts.JSONMode)
	require.Len(t, m.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, m.messages[0].Role)
}

func TestProvider_UnknownRole(t *testing.T) {
	p := New(&stubModel{resp: textResponse("x")})
	_, err := p.Completion(context.Background(), &llm.ChatRequest{Messages: []llm.Message{{Role: "robot"}}})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name      string
		err       error
		code      types.ErrorCode
		retryable bool
	}{
		{"rate limit", errors.New("API returned unexpected status code: 429: slow down"), types.ErrUpstreamError, true},
		{"auth", errors.New("API returned unexpected status code: 401: bad key"), types.ErrForbidden, false},
		{"bad request", errors.New("API returned unexpected status code: 400: nope"), types.ErrInvalidRequest, false},
		{"server", errors.New("API returned unexpected status code: 500: boom"), types.ErrUpstreamError, true},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), types.ErrUpstreamTimeout, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(ctx, tt.err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestClassify_CallerCancellationPassesThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := classify(ctx, fmt.Errorf("post: %w", context.Canceled))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, types.GetErrorCode(err))
}

func TestNewOpenAI(t *testing.T) {
	p, err := NewOpenAI(Config{APIKey: "sk-test", Model: "gpt-4o-mini", BaseURL: "http://localhost:1/v1"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}
