package llm

import (
	"context"
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/types"
)

// ChatRequest is the provider-neutral payload handed to a Handler.
type ChatRequest struct {
	Messages    []types.Message `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

// StreamChunk is one fragment of a streamed response.
// A chunk with Err set is always the last one on the channel.
type StreamChunk struct {
	Index    int          `json:"index"`
	Delta    string       `json:"delta,omitempty"`
	Provider string       `json:"provider,omitempty"`
	Err      *types.Error `json:"error,omitempty"`
}

// Handler 定义了统一的 Provider 适配接口，每种 wire 协议族一个实现。
//
// Chat 返回 *types.Error：Retryable=true 表示瞬时错误（超时、连接失败、429、5xx），
// 其余为终止错误。ChatStream 返回的通道是惰性、有限、不可重放的：生产者在
// ctx 取消后必须停止读取上游并关闭连接。
type Handler interface {
	// Name 返回绑定名（ModelConfig.Name）
	Name() string

	// Family 返回协议族标签
	Family() string

	// Chat 发起同步聊天请求，返回完整文本
	Chat(ctx context.Context, req *ChatRequest) (string, error)

	// ChatStream 发起流式请求，返回无缓冲的增量通道
	ChatStream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
}

// HealthStatus 表示 Provider 健康检查结果。
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Message string        `json:"message,omitempty"`
}

// HealthChecker is implemented by handlers that can probe their upstream cheaply.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (*HealthStatus, error)
}
