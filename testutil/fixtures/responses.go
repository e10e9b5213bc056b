// =============================================================================
// 📦 测试数据工厂 - LLM 响应测试数据
// =============================================================================
// 提供预定义的模型响应数据，配合 mocks.MockProvider.WithCompletionFunc 使用
// =============================================================================
package fixtures

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/flowengine/llm"
)

// =============================================================================
// 🎯 ChatResponse 工厂
// =============================================================================

// SimpleResponse 返回简单的文本响应
func SimpleResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:       "resp-001",
		Provider: "mock",
		Model:    "gpt-4",
		Choices: []llm.ChatChoice{
			{
				Index:        0,
				FinishReason: "stop",
				Message: llm.Message{
					Role:    llm.RoleAssistant,
					Content: content,
				},
			},
		},
		Usage: llm.ChatUsage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
		CreatedAt: time.Now(),
	}
}

// ResponseWithUsage 返回带自定义 Token 使用量的响应
func ResponseWithUsage(content string, promptTokens, completionTokens int) *llm.ChatResponse {
	resp := SimpleResponse(content)
	resp.Usage = llm.ChatUsage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
	return resp
}

// ResponseWithoutUsage 返回未报告用量的响应，用于测试本地估算
func ResponseWithoutUsage(content string) *llm.ChatResponse {
	resp := SimpleResponse(content)
	resp.Usage = llm.ChatUsage{}
	return resp
}

// ObjectResponse 返回内容为 JSON 文档的响应，模拟结构化输出
func ObjectResponse(v any) *llm.ChatResponse {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return SimpleResponse(string(data))
}

// ResponseWithToolCall 返回带单个工具调用的响应
func ResponseWithToolCall(toolName string, args map[string]any) *llm.ChatResponse {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	resp := SimpleResponse("")
	resp.Choices[0].FinishReason = "tool_calls"
	resp.Choices[0].Message.ToolCalls = []llm.ToolCall{{
		ID:        "call-001",
		Name:      toolName,
		Arguments: raw,
	}}
	return resp
}

// EmptyResponse 返回没有任何选项的响应
func EmptyResponse() *llm.ChatResponse {
	resp := SimpleResponse("")
	resp.Choices = nil
	return resp
}
