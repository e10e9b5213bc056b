package tokenizer

import (
	"fmt"
	"strings"
	"sync"
)

// Tokenizer 计算文本和对话的 token 数
type Tokenizer interface {
	CountTokens(text string) (int, error)

	// CountMessages 包含每条消息的角色/分隔符开销和回复引导开销
	CountMessages(messages []Message) (int, error)

	// MaxTokens 模型上下文窗口大小
	MaxTokens() int

	Name() string
}

// Message 计数用的消息，与 llm.Message 解耦
type Message struct {
	Role    string
	Content string
}

const (
	perMessageOverhead = 4
	replyPrimerTokens  = 3
)

// countConversation 按 OpenAI chat 格式累加: 每条消息 4 个标记 token，
// 对话结尾 3 个回复引导 token。
func countConversation(messages []Message, count func(string) (int, error)) (int, error) {
	total := replyPrimerTokens
	for _, m := range messages {
		role, err := count(m.Role)
		if err != nil {
			return 0, err
		}
		content, err := count(m.Content)
		if err != nil {
			return 0, err
		}
		total += perMessageOverhead + role + content
	}
	return total, nil
}

// Registry 按模型名查找分词器，支持前缀匹配
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Tokenizer
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Tokenizer)}
}

func (r *Registry) Register(model string, t Tokenizer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[model] = t
}

// Lookup 精确匹配优先，否则取最长的已注册前缀，
// 使 "gpt-4o-2024-08-06" 落到 "gpt-4o"。
func (r *Registry) Lookup(model string) (Tokenizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if t, ok := r.byName[model]; ok {
		return t, nil
	}
	var best Tokenizer
	bestLen := 0
	for prefix, t := range r.byName {
		if len(prefix) > bestLen && strings.HasPrefix(model, prefix) {
			best, bestLen = t, len(prefix)
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no tokenizer registered for model: %s", model)
	}
	return best, nil
}

var defaultRegistry = NewRegistry()

// RegisterTokenizer 注册到进程级默认表
func RegisterTokenizer(model string, t Tokenizer) {
	defaultRegistry.Register(model, t)
}

func GetTokenizer(model string) (Tokenizer, error) {
	return defaultRegistry.Lookup(model)
}

// GetTokenizerOrEstimator 未注册的模型使用默认窗口的 Estimator
func GetTokenizerOrEstimator(model string) Tokenizer {
	if t, err := defaultRegistry.Lookup(model); err == nil {
		return t
	}
	return NewEstimatorTokenizer(model, 0)
}
