package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer 使用 tiktoken 做精确计数。
// 编码数据首次使用时加载，加载失败则退回 fallback 估算器。
type TiktokenTokenizer struct {
	model    string
	encoding string
	fallback Tokenizer

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// modelEncodings 将模型名称前缀映射到 tiktoken 编码。
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", "o200k_base"},
	{"o1", "o200k_base"},
	{"o3", "o200k_base"},
	{"gpt-4", "cl100k_base"},
	{"gpt-3.5", "cl100k_base"},
}

// NewTiktokenTokenizer creates a tiktoken-backed tokenizer for model.
func NewTiktokenTokenizer(model string, fallback Tokenizer) *TiktokenTokenizer {
	encoding := "cl100k_base"
	for _, m := range modelEncodings {
		if strings.HasPrefix(model, m.prefix) {
			encoding = m.encoding
			break
		}
	}
	if fallback == nil {
		fallback = NewCharEstimator(DefaultDivisor)
	}
	return &TiktokenTokenizer{
		model:    model,
		encoding: encoding,
		fallback: fallback,
	}
}

// init lazily 初始化 tiktoken 编码（首次使用时可能需要下载数据）。
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// Ready reports whether the encoding loaded; the error explains why not.
func (t *TiktokenTokenizer) Ready() error {
	return t.init()
}

func (t *TiktokenTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if err := t.init(); err != nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
