package tokenizer

import "fmt"

// Tokenizer 是统一的 Token 计数接口。实现必须是确定性的：相同输入总是得到相同结果。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数，空字符串为 0。
	CountTokens(text string) int

	// Name 返回分词器的名称。
	Name() string
}

// Kinds accepted by New.
const (
	KindChars    = "chars"
	KindMixed    = "mixed"
	KindTiktoken = "tiktoken"
)

// New builds the tokenizer selected in configuration. divisor applies to the
// chars estimator and to the tiktoken fallback; model selects the tiktoken
// encoding.
func New(kind string, divisor float64, model string) (Tokenizer, error) {
	switch kind {
	case "", KindChars:
		return NewCharEstimator(divisor), nil
	case KindMixed:
		return NewMixedEstimator(), nil
	case KindTiktoken:
		return NewTiktokenTokenizer(model, NewCharEstimator(divisor)), nil
	default:
		return nil, fmt.Errorf("unknown tokenizer kind %q", kind)
	}
}
