package metrics

import (
	"context"
	"time"

	"github.com/BaSui01/flowengine/llm"
)

// InstrumentedProvider 记录每次模型调用的耗时、状态与 Token 用量
type InstrumentedProvider struct {
	next      llm.Provider
	collector *Collector
}

// InstrumentProvider 包装 Provider；collector 为空时原样返回
func InstrumentProvider(p llm.Provider, c *Collector) llm.Provider {
	if c == nil || p == nil {
		return p
	}
	return &InstrumentedProvider{next: p, collector: c}
}

func (p *InstrumentedProvider) Name() string { return p.next.Name() }

func (p *InstrumentedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	start := time.Now()
	resp, err := p.next.Completion(ctx, req)

	model := req.Model
	status := "success"
	var usage llm.ChatUsage
	if err != nil {
		status = "error"
	} else {
		usage = resp.Usage
		if resp.Model != "" {
			model = resp.Model
		}
	}
	p.collector.RecordLLMRequest(p.next.Name(), model, status, time.Since(start), usage.PromptTokens, usage.CompletionTokens)
	return resp, err
}
