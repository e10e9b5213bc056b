package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/flowengine/llm"
	"github.com/BaSui01/flowengine/llm/tokenizer"
	"github.com/BaSui01/flowengine/llm/tools"
)

// builtinTool 是 Tool 节点可按 id 调用的进程内工具
type builtinTool struct {
	name   string
	desc   string
	params string
	fn     tools.ToolFunc
	limit  *tools.RateLimitConfig
}

var builtinTools = []builtinTool{
	{
		name:   "current_time",
		desc:   "Returns the current time, optionally in an IANA time zone.",
		params: `{"type":"object","properties":{"timezone":{"type":"string"}}}`,
		fn:     currentTime,
	},
	{
		name:   "uuid",
		desc:   "Generates a random UUID.",
		params: `{"type":"object","properties":{}}`,
		fn: func(context.Context, map[string]any) (any, error) {
			return map[string]any{"uuid": uuid.NewString()}, nil
		},
	},
	{
		name:   "count_tokens",
		desc:   "Counts the tokens of a text for a model.",
		params: `{"type":"object","properties":{"text":{"type":"string"},"model":{"type":"string"}},"required":["text"]}`,
		fn:     countTokens,
		limit:  &tools.RateLimitConfig{MaxCalls: 100, Window: time.Second},
	},
}

func registerBuiltinTools(r *tools.Registry) error {
	for _, t := range builtinTools {
		err := r.Register(t.name, t.fn, tools.ToolMetadata{
			Schema: llm.ToolSchema{
				Name:        t.name,
				Description: t.desc,
				Parameters:  json.RawMessage(t.params),
			},
			RateLimit: t.limit,
			Timeout:   5 * time.Second,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func currentTime(_ context.Context, params map[string]any) (any, error) {
	now := time.Now()
	if tz, _ := params["timezone"].(string); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", tz)
		}
		now = now.In(loc)
	}
	return map[string]any{
		"time": now.Format(time.RFC3339),
		"unix": now.Unix(),
	}, nil
}

func countTokens(_ context.Context, params map[string]any) (any, error) {
	text, ok := params["text"].(string)
	if !ok {
		return nil, fmt.Errorf("text must be a string")
	}
	model, _ := params["model"].(string)
	if model == "" {
		model = "gpt-4o-mini"
	}
	n, err := tokenizer.GetTokenizerOrEstimator(model).CountTokens(text)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tokens": n, "model": model}, nil
}
