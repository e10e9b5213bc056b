package tokenizer

import "unicode"

const defaultContextWindow = 4096

// EstimatorTokenizer 不加载词表，按字符类别估算:
// 汉字/假名/谚文约 1.5 字符一个 token，其余约 4 字符一个 token。
type EstimatorTokenizer struct {
	model     string
	maxTokens int
}

// NewEstimatorTokenizer maxTokens <= 0 时使用 4096
func NewEstimatorTokenizer(model string, maxTokens int) *EstimatorTokenizer {
	if maxTokens <= 0 {
		maxTokens = defaultContextWindow
	}
	return &EstimatorTokenizer{model: model, maxTokens: maxTokens}
}

// CountTokens 非空文本至少计 1
func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	var wide, narrow int
	for _, r := range text {
		if isWideScript(r) {
			wide++
		} else {
			narrow++
		}
	}
	// wide/1.5 + narrow/4，整数运算避免浮点误差
	n := (wide*8 + narrow*3) / 12
	return max(n, 1), nil
}

func (e *EstimatorTokenizer) CountMessages(messages []Message) (int, error) {
	return countConversation(messages, e.CountTokens)
}

func (e *EstimatorTokenizer) MaxTokens() int { return e.maxTokens }

func (e *EstimatorTokenizer) Name() string { return "estimator" }

var wideScripts = []*unicode.RangeTable{unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul}

func isWideScript(r rune) bool {
	if r < 0x3000 {
		return false
	}
	if unicode.IsOneOf(wideScripts, r) {
		return true
	}
	// 全角标点与全宽字符
	return r <= 0x303F || (r >= 0xFF00 && r <= 0xFFEF)
}
