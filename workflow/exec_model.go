package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/llm"
	"github.com/BaSui01/flowengine/llm/tokenizer"
	"github.com/BaSui01/flowengine/llm/tools"
	"github.com/BaSui01/flowengine/types"
)

// answerKey picks the output property the model answer is stored under.
// "response" is accepted for graphs saved before "answer" was introduced.
func answerKey(n *LLMNode) (string, *Schema, error) {
	schema := schemaOf(n)
	for _, key := range []string{"answer", "response"} {
		if prop, ok := schema.Properties.Get(key); ok {
			return key, prop, nil
		}
	}
	return "", nil, types.NewExecutionError("llm output schema must declare an \"answer\" or \"response\" property", nil)
}

func (e *Engine) execLLM(ctx context.Context, n *LLMNode, state *RuntimeState) (Result, error) {
	key, prop, err := answerKey(n)
	if err != nil {
		return Result{}, err
	}

	messages := make([]llm.Message, 0, len(n.Messages))
	for _, m := range n.Messages {
		messages = append(messages, llm.Message{Role: llm.Role(m.Role), Content: m.Content.Render(state)})
	}

	var (
		answer any
		usage  llm.ChatUsage
	)
	if prop.Type == SchemaString || prop.Type == "" {
		res, err := llm.GenerateText(ctx, e.deps.Model, n.Model, messages)
		if err != nil {
			return Result{Input: llmInput(n.Model, messages, usage)}, wrapModelError(ctx, err)
		}
		answer, usage = res.Text, res.Usage
		if usage.TotalTokens == 0 {
			usage = estimateUsage(n.Model, messages, res.Text)
		}
	} else {
		schema, err := json.Marshal(ObjectSchema(Prop(key, prop)))
		if err != nil {
			return Result{}, fmt.Errorf("encode output schema: %w", err)
		}
		res, err := llm.GenerateObject(ctx, e.deps.Model, n.Model, messages, schema)
		if err != nil {
			return Result{Input: llmInput(n.Model, messages, usage)}, wrapModelError(ctx, err)
		}
		answer, usage = res.Object, res.Usage
		if obj, ok := res.Object.(map[string]any); ok {
			if v, ok := obj[key]; ok {
				answer = v
			}
		}
		if usage.TotalTokens == 0 {
			raw, _ := json.Marshal(res.Object)
			usage = estimateUsage(n.Model, messages, string(raw))
		}
	}

	return Result{
		Input:  llmInput(n.Model, messages, usage),
		Output: map[string]any{key: answer},
	}, nil
}

func llmInput(model string, messages []llm.Message, usage llm.ChatUsage) map[string]any {
	return map[string]any{"model": model, "messages": messages, "usage": usage}
}

// estimateUsage counts tokens locally when the provider reports no usage.
func estimateUsage(model string, messages []llm.Message, completion string) llm.ChatUsage {
	tk := tokenizer.GetTokenizerOrEstimator(model)
	msgs := make([]tokenizer.Message, len(messages))
	for i, m := range messages {
		msgs[i] = tokenizer.Message{Role: string(m.Role), Content: m.Content}
	}
	prompt, err := tk.CountMessages(msgs)
	if err != nil {
		return llm.ChatUsage{}
	}
	out, err := tk.CountTokens(completion)
	if err != nil {
		return llm.ChatUsage{}
	}
	return llm.ChatUsage{PromptTokens: prompt, CompletionTokens: out, TotalTokens: prompt + out}
}

// wrapModelError turns a deadline into a TimeoutError and anything else into
// an ExecutionError. Errors that already carry a code are kept.
func wrapModelError(ctx context.Context, err error) error {
	if _, ok := types.AsError(err); ok {
		return err
	}
	if ctx.Err() == context.DeadlineExceeded {
		return types.NewTimeoutError("model call timeout").WithCause(err)
	}
	return types.NewExecutionError("model call failed", err)
}

func (e *Engine) execTool(ctx context.Context, n *ToolNode, state *RuntimeState) (Result, error) {
	if n.Tool == nil {
		return Result{}, types.NewExecutionError("tool is not configured", nil)
	}
	ref := n.Tool
	message := n.Message.Render(state)

	var params map[string]any
	if ref.Parameters != nil {
		schema, err := json.Marshal(ref.Parameters)
		if err != nil {
			return Result{}, fmt.Errorf("encode tool parameters: %w", err)
		}
		call, err := llm.GenerateToolCall(ctx, e.deps.Model, n.Model,
			[]llm.Message{{Role: llm.RoleUser, Content: message}},
			llm.ToolSchema{Name: ref.Name, Description: ref.Description, Parameters: schema})
		if err != nil {
			return Result{}, wrapModelError(ctx, err)
		}
		params = call.Arguments
	}

	input := map[string]any{"tool": ref.Name, "source": string(ref.Source), "message": message, "params": params}

	var (
		res *tools.Result
		err error
	)
	switch ref.Source {
	case ToolSourceApp:
		if e.deps.AppTools == nil {
			return Result{Input: input}, types.NewExecutionError("app tool registry is not configured", nil)
		}
		res, err = e.deps.AppTools.Call(ctx, ref.ID, params)
	default:
		if e.deps.Tools == nil {
			return Result{Input: input}, types.NewExecutionError("tool manager is not configured", nil)
		}
		res, err = e.deps.Tools.Call(ctx, tools.Ref{ID: ref.ID, Name: ref.Name, ServerID: ref.ServerID}, params)
	}
	if err != nil {
		return Result{Input: input}, types.NewExecutionError(fmt.Sprintf("tool %s call failed", ref.Name), err)
	}
	if res.IsError {
		msg := res.Error
		if msg == "" {
			msg = "unknown error"
		}
		return Result{Input: input}, types.NewExecutionError(fmt.Sprintf("tool %s failed: %s", ref.Name, msg), nil)
	}
	return Result{Input: input, Output: map[string]any{"tool_result": res.Content}}, nil
}

func (e *Engine) execMultiAgent(ctx context.Context, n *MultiAgentNode, state *RuntimeState) (Result, error) {
	if strings.TrimSpace(n.Agent1ID) == "" || strings.TrimSpace(n.Agent2ID) == "" {
		return Result{}, types.NewExecutionError("both agents must be selected", nil)
	}
	task := strings.TrimSpace(n.Task.Render(state))
	if task == "" {
		return Result{}, types.NewExecutionError("task description is required", nil)
	}
	if e.deps.MultiAgent == nil {
		return Result{}, types.NewExecutionError("multi-agent runner is not configured", nil)
	}

	req := MultiAgentRequest{
		Agent1ID: n.Agent1ID,
		Agent2ID: n.Agent2ID,
		Task:     task,
		MaxTurns: n.MaxTurns,
		ThreadID: uuid.NewString(),
	}
	input := map[string]any{"agent1Id": req.Agent1ID, "agent2Id": req.Agent2ID, "task": task, "maxTurns": req.MaxTurns}

	e.logger.Debug("starting multi-agent conversation",
		zap.String("node_id", n.ID), zap.String("thread_id", req.ThreadID))
	res, err := e.deps.MultiAgent.Run(ctx, req)
	if err != nil {
		return Result{Input: input}, types.NewExecutionError("multi-agent conversation failed", err)
	}
	threadID := res.ThreadID
	if threadID == "" {
		threadID = req.ThreadID
	}
	return Result{Input: input, Output: map[string]any{
		"result":   res.Result,
		"turns":    res.Turns,
		"threadId": threadID,
	}}, nil
}
