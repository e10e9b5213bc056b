package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

type encodingSpec struct {
	prefix    string
	encoding  string
	maxTokens int
}

// openAIModels 按前缀长度降序，第一个匹配即最长前缀
var openAIModels = []encodingSpec{
	{"text-embedding-3-large", "cl100k_base", 8191},
	{"text-embedding-3-small", "cl100k_base", 8191},
	{"gpt-3.5-turbo", "cl100k_base", 16385},
	{"gpt-4o-mini", "o200k_base", 128000},
	{"gpt-4-turbo", "cl100k_base", 128000},
	{"gpt-4o", "o200k_base", 128000},
	{"gpt-4", "cl100k_base", 8192},
}

var fallbackEncoding = encodingSpec{encoding: "cl100k_base", maxTokens: 8192}

func resolveEncoding(model string) encodingSpec {
	for _, s := range openAIModels {
		if strings.HasPrefix(model, s.prefix) {
			return s
		}
	}
	return fallbackEncoding
}

// 同一编码的 BPE 表在所有模型间共享，首次使用时加载（可能需要下载）
var (
	encodingsMu sync.Mutex
	encodings   = make(map[string]*tiktoken.Tiktoken)
)

func loadEncoding(name string) (*tiktoken.Tiktoken, error) {
	encodingsMu.Lock()
	defer encodingsMu.Unlock()
	if enc, ok := encodings[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %s: %w", name, err)
	}
	encodings[name] = enc
	return enc, nil
}

// TiktokenTokenizer OpenAI 模型的精确计数
type TiktokenTokenizer struct {
	model string
	spec  encodingSpec
}

// NewTiktokenTokenizer 未知模型按 cl100k_base、8192 窗口处理
func NewTiktokenTokenizer(model string) (*TiktokenTokenizer, error) {
	return &TiktokenTokenizer{model: model, spec: resolveEncoding(model)}, nil
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	enc, err := loadEncoding(t.spec.encoding)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) CountMessages(messages []Message) (int, error) {
	if _, err := loadEncoding(t.spec.encoding); err != nil {
		return 0, err
	}
	return countConversation(messages, t.CountTokens)
}

func (t *TiktokenTokenizer) MaxTokens() int { return t.spec.maxTokens }

func (t *TiktokenTokenizer) Name() string {
	return "tiktoken[" + t.spec.encoding + "]"
}

// RegisterOpenAITokenizers 把已知 OpenAI 模型前缀注册到默认表
func RegisterOpenAITokenizers() {
	for _, s := range openAIModels {
		RegisterTokenizer(s.prefix, &TiktokenTokenizer{model: s.prefix, spec: s})
	}
}
