// Package langchain adapts langchaingo models to llm.Provider.
package langchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/BaSui01/flowengine/llm"
	"github.com/BaSui01/flowengine/types"
)

// Provider wraps any langchaingo llms.Model.
type Provider struct {
	model        llms.Model
	name         string
	defaultModel string
}

// Option configures a Provider.
type Option func(*Provider)

// WithName overrides the provider name reported in responses and logs.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithDefaultModel sets the model used when a request does not name one.
func WithDefaultModel(model string) Option {
	return func(p *Provider) { p.defaultModel = model }
}

func New(model llms.Model, opts ...Option) *Provider {
	p := &Provider{model: model, name: "langchain"}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config describes an OpenAI-compatible endpoint.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// NewOpenAI builds a Provider backed by langchaingo's OpenAI client.
func NewOpenAI(cfg Config) (*Provider, error) {
	opts := []openai.Option{openai.WithToken(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, openai.WithHTTPClient(cfg.HTTPClient))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return New(m, WithName("openai"), WithDefaultModel(cfg.Model)), nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	messages, err := toMessages(req.Messages)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "convert messages").WithCause(err)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	var opts []llms.CallOption
	if model != "" {
		opts = append(opts, llms.WithModel(model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(float64(req.Temperature)))
	}
	if len(req.Tools) > 0 {
		opts = append(opts, llms.WithTools(toTools(req.Tools)))
		if choice := toToolChoice(req.ToolChoice); choice != nil {
			opts = append(opts, llms.WithToolChoice(choice))
		}
	}
	if rf := req.ResponseFormat; rf != nil && rf.Type != "" && rf.Type != "text" {
		opts = append(opts, llms.WithJSONMode())
		if len(rf.Schema) > 0 {
			messages = append([]llms.MessageContent{
				llms.TextParts(llms.ChatMessageTypeSystem,
					"Respond only with a JSON value matching this JSON Schema:\n"+string(rf.Schema)),
			}, messages...)
		}
	}

	resp, err := p.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return p.fromResponse(model, resp), nil
}

func toMessages(in []llm.Message) ([]llms.MessageContent, error) {
	out := make([]llms.MessageContent, 0, len(in))
	for _, m := range in {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, m.Content))
		case llm.RoleUser:
			out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case llm.RoleAssistant:
			mc := llms.MessageContent{Role: llms.ChatMessageTypeAI}
			if m.Content != "" {
				mc.Parts = append(mc.Parts, llms.TextContent{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				mc.Parts = append(mc.Parts, llms.ToolCall{
					ID:   tc.ID,
					Type: "function",
					FunctionCall: &llms.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			out = append(out, mc)
		case llm.RoleTool:
			out = append(out, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: m.ToolCallID,
					Name:       m.Name,
					Content:    m.Content,
				}},
			})
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func toTools(in []llm.ToolSchema) []llms.Tool {
	out := make([]llms.Tool, 0, len(in))
	for _, t := range in {
		var params any
		if len(t.Parameters) > 0 {
			params = t.Parameters
		}
		out = append(out, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// toToolChoice maps "auto", "none" and a tool name to langchaingo's forms.
func toToolChoice(choice string) any {
	switch choice {
	case "":
		return nil
	case "auto", "none", "required":
		return choice
	default:
		return llms.ToolChoice{Type: "function", Function: &llms.FunctionReference{Name: choice}}
	}
}

func (p *Provider) fromResponse(model string, resp *llms.ContentResponse) *llm.ChatResponse {
	out := &llm.ChatResponse{
		Provider:  p.name,
		Model:     model,
		CreatedAt: time.Now(),
	}
	for i, c := range resp.Choices {
		msg := llm.Message{Role: llm.RoleAssistant, Content: c.Content}
		for _, tc := range c.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.FunctionCall.Name,
				Arguments: rawArguments(tc.FunctionCall.Arguments),
			})
		}
		if len(msg.ToolCalls) == 0 && c.FuncCall != nil {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				Name:      c.FuncCall.Name,
				Arguments: rawArguments(c.FuncCall.Arguments),
			})
		}
		out.Choices = append(out.Choices, llm.ChatChoice{Index: i, FinishReason: c.StopReason, Message: msg})

		if i == 0 {
			out.Usage = usageOf(c.GenerationInfo)
		}
	}
	return out
}

func rawArguments(s string) json.RawMessage {
	if strings.TrimSpace(s) == "" {
		return json.RawMessage("{}")
	}
	return json.RawMessage(s)
}

func usageOf(info map[string]any) llm.ChatUsage {
	u := llm.ChatUsage{
		PromptTokens:     intOf(info["PromptTokens"]),
		CompletionTokens: intOf(info["CompletionTokens"]),
		TotalTokens:      intOf(info["TotalTokens"]),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

func intOf(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// classify turns client errors into coded errors. Context errors pass through
// so callers can tell cancellation from upstream failure.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, ctxErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "status code: 429"):
		return types.NewError(types.ErrUpstreamError, "rate limited").WithCause(err).WithRetryable(true).WithHTTPStatus(http.StatusTooManyRequests)
	case strings.Contains(msg, "status code: 401"), strings.Contains(msg, "status code: 403"):
		return types.NewError(types.ErrForbidden, "provider rejected credentials").WithCause(err)
	case strings.Contains(msg, "status code: 400"), strings.Contains(msg, "status code: 404"), strings.Contains(msg, "status code: 422"):
		return types.NewError(types.ErrInvalidRequest, "provider rejected request").WithCause(err)
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewError(types.ErrUpstreamTimeout, "provider timed out").WithCause(err).WithRetryable(true)
	}
	return types.NewError(types.ErrUpstreamError, "provider request failed").WithCause(err).WithRetryable(true)
}
