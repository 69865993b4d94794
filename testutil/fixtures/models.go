// 测试数据工厂：模型绑定、对话历史与流式块样例。
package fixtures

import (
	"fmt"
	"strings"
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"github.com/SkastVnT/AI-Assistant-sub002/types"
)

// --- 模型绑定 ---

// ModelConfig 返回一个可直接注册的绑定，默认支持流式
func ModelConfig(name string) llm.ModelConfig {
	return llm.ModelConfig{
		Name:              name,
		Family:            llm.FamilyOpenAI,
		APIKey:            "sk-test-" + name,
		Model:             name + "-model",
		MaxTokens:         512,
		DeepMaxTokens:     2048,
		Temperature:       0.7,
		DeepTemperature:   0.3,
		ContextLimit:      4096,
		Timeout:           5 * time.Second,
		SupportsStreaming: true,
	}
}

// NonStreamingModelConfig 返回不支持流式的绑定
func NonStreamingModelConfig(name string) llm.ModelConfig {
	cfg := ModelConfig(name)
	cfg.SupportsStreaming = false
	return cfg
}

// ModelWithFallback 返回声明了 fallback 的绑定
func ModelWithFallback(name, fallback string) llm.ModelConfig {
	cfg := ModelConfig(name)
	cfg.Fallback = fallback
	return cfg
}

// --- 对话 ---

// SimpleHistory 返回两轮简单对话
func SimpleHistory() []llm.Turn {
	return []llm.Turn{
		{User: "Hello", Assistant: "Hi! How can I help you today?"},
		{User: "What's the capital of France?", Assistant: "The capital of France is Paris."},
	}
}

// LongHistory 生成 turns 轮、每轮每侧约 size 个字符的对话
func LongHistory(turns, size int) []llm.Turn {
	history := make([]llm.Turn, turns)
	for i := range history {
		history[i] = llm.Turn{
			User:      padded(fmt.Sprintf("question %d ", i), size),
			Assistant: padded(fmt.Sprintf("answer %d ", i), size),
		}
	}
	return history
}

func padded(prefix string, size int) string {
	if len(prefix) >= size {
		return prefix
	}
	return prefix + strings.Repeat("x", size-len(prefix))
}

// ChatContext 返回只带消息的最小请求
func ChatContext(message string) llm.ChatContext {
	return llm.ChatContext{Message: message}
}

// --- 错误 ---

// TransientError 返回可重试的上游错误
func TransientError(provider string) *types.Error {
	return types.NewTransientError(types.ErrUpstreamError, "upstream unavailable").
		WithHTTPStatus(503).
		WithProvider(provider)
}

// TerminalError 返回不可重试的鉴权错误
func TerminalError(provider string) *types.Error {
	return types.NewError(types.ErrUnauthorized, "invalid api key").
		WithHTTPStatus(401).
		WithProvider(provider)
}

// --- 流式块 ---

// TextChunks 把 content 按 chunkSize 切分为流式块
func TextChunks(provider, content string, chunkSize int) []llm.StreamChunk {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	var chunks []llm.StreamChunk
	for i := 0; i < len(content); i += chunkSize {
		end := min(i+chunkSize, len(content))
		chunks = append(chunks, llm.StreamChunk{Index: len(chunks), Delta: content[i:end], Provider: provider})
	}
	return chunks
}

// ErrorChunk 返回终止错误块
func ErrorChunk(provider string, err *types.Error) llm.StreamChunk {
	return llm.StreamChunk{Provider: provider, Err: err}
}
