package api

import (
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/circuitbreaker"
	"github.com/SkastVnT/AI-Assistant-sub002/types"
)

// =============================================================================
// 聊天类型
// =============================================================================

// Turn 一轮历史对话
type Turn = llm.Turn

// ChatRequest 聊天请求
// @Description 聊天请求结构
type ChatRequest struct {
	// 模型绑定名，空时使用默认模型
	Model string `json:"model,omitempty" example:"deepseek"`
	// 用户消息
	Message string `json:"message" example:"Explain circuit breakers" binding:"required"`
	// 上下文标签，用于选择系统提示词
	Context string `json:"context,omitempty" example:"code"`
	// 深度思考模式，使用 deep_temperature / deep_max_tokens
	DeepThinking bool `json:"deep_thinking,omitempty"`
	// 回复语言
	Language string `json:"language,omitempty" example:"en"`
	// 覆盖系统提示词
	SystemPrompt string `json:"system_prompt,omitempty"`
	// 会话历史，按上下文窗口裁剪
	History []Turn `json:"history,omitempty"`
	// 显式历史，原样发送不裁剪
	ExplicitHistory []Turn `json:"explicit_history,omitempty"`
	// 记忆片段
	Memories []string `json:"memories,omitempty"`
	// 是否启用降级链，默认 true
	UseFallback *bool `json:"use_fallback,omitempty"`
	// 是否使用响应缓存，默认 true
	UseCache *bool `json:"use_cache,omitempty"`
}

// ChatContext 转换为核心层的请求上下文
func (r *ChatRequest) ChatContext() llm.ChatContext {
	return llm.ChatContext{
		Message:         r.Message,
		ContextTag:      r.Context,
		DeepThinking:    r.DeepThinking,
		Language:        r.Language,
		SystemPrompt:    r.SystemPrompt,
		ExplicitHistory: r.ExplicitHistory,
		Memories:        r.Memories,
		History:         r.History,
	}
}

// FallbackEnabled 未设置时默认开启
func (r *ChatRequest) FallbackEnabled() bool { return r.UseFallback == nil || *r.UseFallback }

// CacheEnabled 未设置时默认开启
func (r *ChatRequest) CacheEnabled() bool { return r.UseCache == nil || *r.UseCache }

// ChatResponse 聊天响应
// @Description 聊天响应结构
type ChatResponse struct {
	Content    string `json:"content"`
	Model      string `json:"model" example:"deepseek"`
	Family     string `json:"family,omitempty" example:"deepseek"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count"`
	IsFallback bool   `json:"is_fallback"`
	Cached     bool   `json:"cached,omitempty"`
	// 总耗时（毫秒）
	DurationMS int64 `json:"duration_ms"`
}

// NewChatResponse 从核心层响应构建
func NewChatResponse(resp *llm.ChatResponse) *ChatResponse {
	return &ChatResponse{
		Content:    resp.Content,
		Model:      resp.Model,
		Family:     resp.Family,
		Success:    resp.Success,
		Error:      resp.Error,
		RetryCount: resp.RetryCount,
		IsFallback: resp.IsFallback,
		Cached:     resp.Cached,
		DurationMS: resp.Duration.Milliseconds(),
	}
}

// StreamEvent 流式事件，SSE 与 WebSocket 共用
// @Description 流式响应片段
type StreamEvent struct {
	Index    int          `json:"index"`
	Delta    string       `json:"delta,omitempty"`
	Provider string       `json:"provider,omitempty"`
	Done     bool         `json:"done,omitempty"`
	Error    *ErrorDetail `json:"error,omitempty"`
}

// NewStreamEvent 从核心层片段构建
func NewStreamEvent(chunk llm.StreamChunk) StreamEvent {
	ev := StreamEvent{Index: chunk.Index, Delta: chunk.Delta, Provider: chunk.Provider}
	if chunk.Err != nil {
		ev.Error = NewErrorDetail(chunk.Err)
	}
	return ev
}

// =============================================================================
// 模型类型
// =============================================================================

// ModelInfo 已注册模型绑定的公开视图（不含凭证）
// @Description 模型绑定信息
type ModelInfo struct {
	Name              string        `json:"name" example:"deepseek"`
	Family            string        `json:"family" example:"deepseek"`
	Model             string        `json:"model,omitempty" example:"deepseek-chat"`
	ContextLimit      int           `json:"context_limit" example:"8192"`
	Timeout           time.Duration `json:"timeout"`
	SupportsStreaming bool          `json:"supports_streaming"`
	Default           bool          `json:"default"`
	// 降级候选，按顺序
	Fallbacks []string `json:"fallbacks,omitempty"`
	// 熔断器状态；该 Provider 尚未被调用时为空
	Breaker *circuitbreaker.Snapshot `json:"breaker,omitempty"`
}

// NewModelInfo 构建模型视图
func NewModelInfo(cfg llm.ModelConfig, isDefault bool, fallbacks []string, breaker *circuitbreaker.Snapshot) ModelInfo {
	return ModelInfo{
		Name:              cfg.Name,
		Family:            cfg.Family,
		Model:             cfg.Model,
		ContextLimit:      cfg.ContextLimit,
		Timeout:           cfg.Timeout,
		SupportsStreaming: cfg.SupportsStreaming,
		Default:           isDefault,
		Fallbacks:         fallbacks,
		Breaker:           breaker,
	}
}

// =============================================================================
// 配置类型
// =============================================================================

// ConfigReloadResponse 配置重载结果
// @Description 配置重载结果
type ConfigReloadResponse struct {
	Version int `json:"version" example:"2"`
	// 本次变更的字段路径
	Changed []string `json:"changed"`
	// 需要重启才生效的字段路径
	RequiresRestart []string `json:"requires_restart,omitempty"`
}

// ConfigChangeEntry 变更日志条目；不含新旧值，避免泄露凭证
// @Description 配置变更日志条目
type ConfigChangeEntry struct {
	Timestamp       time.Time `json:"timestamp"`
	Source          string    `json:"source" example:"file"`
	Path            string    `json:"path" example:"Log.Level"`
	Applied         bool      `json:"applied"`
	RequiresRestart bool      `json:"requires_restart"`
	Error           string    `json:"error,omitempty"`
}

// =============================================================================
// 错误类型
// =============================================================================

// ErrorDetail 错误详情
// @Description 错误详细结构
type ErrorDetail struct {
	// 错误代码
	Code string `json:"code" example:"UPSTREAM_TIMEOUT"`
	// 人类可读的错误消息
	Message string `json:"message" example:"request timed out"`
	// 是否可重试
	Retryable bool `json:"retryable,omitempty" example:"true"`
	// 返回错误的提供者
	Provider string `json:"provider,omitempty" example:"deepseek"`
}

// NewErrorDetail 从 types.Error 构建
func NewErrorDetail(err *types.Error) *ErrorDetail {
	return &ErrorDetail{
		Code:      string(err.Code),
		Message:   err.Message,
		Retryable: err.Retryable,
		Provider:  err.Provider,
	}
}
