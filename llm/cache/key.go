package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// KeyPrefix 所有响应缓存键的公共前缀
const KeyPrefix = "llm:cache:"

// SystemPrefixLen is how many runes of the system prompt take part in the key.
const SystemPrefixLen = 200

// KeyInput 参与缓存键计算的请求字段
type KeyInput struct {
	Model        string `json:"model"`
	Message      string `json:"message"`
	ContextTag   string `json:"context"`
	DeepThinking bool   `json:"deep_thinking"`
	Language     string `json:"language"`
	SystemPrefix string `json:"system_prefix"`
}

// KeyStrategy 缓存键生成策略接口
type KeyStrategy interface {
	// GenerateKey 生成缓存键，相同输入必须得到相同结果
	GenerateKey(in KeyInput) string

	// Name 返回策略名称（用于日志和调试）
	Name() string
}

// HashKeyStrategy 对全部字段做 Hash
type HashKeyStrategy struct{}

// NewHashKeyStrategy 创建 Hash 策略
func NewHashKeyStrategy() *HashKeyStrategy { return &HashKeyStrategy{} }

// Name 返回策略名称
func (s *HashKeyStrategy) Name() string { return "hash" }

// GenerateKey 生成 Hash 缓存键
func (s *HashKeyStrategy) GenerateKey(in KeyInput) string {
	return KeyPrefix + hashInput(in, 16)
}

// HierarchicalKeyStrategy 层次化缓存键策略
// 格式：llm:cache:{model}:{hash}
// 模型名作为前缀，可以按模型批量失效
type HierarchicalKeyStrategy struct{}

// NewHierarchicalKeyStrategy 创建层次化策略
func NewHierarchicalKeyStrategy() *HierarchicalKeyStrategy { return &HierarchicalKeyStrategy{} }

// Name 返回策略名称
func (s *HierarchicalKeyStrategy) Name() string { return "hierarchical" }

// GenerateKey 生成层次化缓存键
func (s *HierarchicalKeyStrategy) GenerateKey(in KeyInput) string {
	return fmt.Sprintf("%s%s:%s", KeyPrefix, in.Model, hashInput(in, 12))
}

// ModelPattern returns the glob matching every hierarchical key of model.
func (s *HierarchicalKeyStrategy) ModelPattern(model string) string {
	return fmt.Sprintf("%s%s:*", KeyPrefix, model)
}

// NewKeyStrategy 根据名称选择策略：hash | hierarchical
func NewKeyStrategy(name string) KeyStrategy {
	if name == "hierarchical" {
		return NewHierarchicalKeyStrategy()
	}
	return NewHashKeyStrategy()
}

// Key is the default hash key of (model, message, context tag, deep thinking,
// language, system prompt prefix).
func Key(model, message, contextTag string, deepThinking bool, language, systemPrompt string) string {
	return NewHashKeyStrategy().GenerateKey(KeyInput{
		Model:        model,
		Message:      message,
		ContextTag:   contextTag,
		DeepThinking: deepThinking,
		Language:     language,
		SystemPrefix: SystemPrefix(systemPrompt),
	})
}

// SystemPrefix truncates a system prompt to SystemPrefixLen runes.
func SystemPrefix(s string) string {
	r := []rune(s)
	if len(r) <= SystemPrefixLen {
		return s
	}
	return string(r[:SystemPrefixLen])
}

func hashInput(in KeyInput, n int) string {
	// 结构体字段固定，Marshal 不会失败
	data, _ := json.Marshal(in)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:n])
}
