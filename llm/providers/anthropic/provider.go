package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/providers"
	"github.com/SkastVnT/AI-Assistant-sub002/types"
	"go.uber.org/zap"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-3-5-sonnet-latest"
	anthropicVersion = "2023-06-01"
)

// ClaudeProvider 实现 Anthropic Messages API 的 llm.Handler。
// Claude API 与 OpenAI 有显著差异：
// 1. 认证使用 x-api-key 请求头而非 Bearer Token
// 2. system 消息单独传递
// 3. 流式响应使用 SSE 但事件结构不同
type ClaudeProvider struct {
	providers.Base
}

// NewClaudeProvider 创建 Claude Provider。
func NewClaudeProvider(cfg llm.ModelConfig, logger *zap.Logger) *ClaudeProvider {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return &ClaudeProvider{Base: providers.NewBase(cfg, defaultBaseURL, logger)}
}

type claudeMessage struct {
	Role    string          `json:"role"` // user 或 assistant
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	Messages    []claudeMessage `json:"messages"`
	System      string          `json:"system,omitempty"` // system 消息单独传递
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream,omitempty"`
}

type claudeResponse struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Content    []claudeContent `json:"content"`
	Model      string          `json:"model"`
	StopReason string          `json:"stop_reason"`
}

// 流式响应的事件类型
type claudeStreamEvent struct {
	Type  string       `json:"type"` // message_start, content_block_delta, message_stop, error ...
	Index int          `json:"index,omitempty"`
	Delta *claudeDelta `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type claudeDelta struct {
	Type string `json:"type"` // text_delta
	Text string `json:"text,omitempty"`
}

func (p *ClaudeProvider) buildHeaders(req *http.Request) {
	// Claude 使用 x-api-key 认证
	req.Header.Set("x-api-key", p.Cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Accept", "application/json")
}

// convertToClaudeMessages 将统一格式转换为 Claude 格式
// system 消息提取到 system 字段，多条时按顺序拼接。
func convertToClaudeMessages(msgs []types.Message) (string, []claudeMessage) {
	var system []string
	out := make([]claudeMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == types.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		if m.Content == "" {
			continue
		}
		// Messages API 要求 user / assistant 交替，相邻同角色合并为多个文本块
		if n := len(out); n > 0 && out[n-1].Role == string(m.Role) {
			out[n-1].Content = append(out[n-1].Content, claudeContent{Type: "text", Text: m.Content})
			continue
		}
		out = append(out, claudeMessage{
			Role:    string(m.Role),
			Content: []claudeContent{{Type: "text", Text: m.Content}},
		})
	}
	return strings.Join(system, "\n\n"), out
}

func (p *ClaudeProvider) body(req *llm.ChatRequest, stream bool) claudeRequest {
	system, messages := convertToClaudeMessages(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		// Claude 要求必须给出 max_tokens
		maxTokens = p.Cfg.MaxTokens
	}
	return claudeRequest{
		Model:       p.Cfg.Model,
		Messages:    messages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

func (p *ClaudeProvider) endpoint() string {
	return p.Cfg.BaseURL + "/v1/messages"
}

// Chat 发起一次同步请求。
func (p *ClaudeProvider) Chat(ctx context.Context, req *llm.ChatRequest) (string, error) {
	resp, err := p.PostJSON(ctx, p.endpoint(), p.body(req, false), p.buildHeaders)
	if err != nil {
		return "", err
	}
	var cr claudeResponse
	if err := p.DecodeJSON(resp, &cr); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, c := range cr.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	return sb.String(), nil
}

// ChatStream 发起流式请求。
func (p *ClaudeProvider) ChatStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	resp, err := p.PostJSON(ctx, p.endpoint(), p.body(req, true), func(r *http.Request) {
		p.buildHeaders(r)
		r.Header.Set("Accept", "text/event-stream")
	})
	if err != nil {
		return nil, err
	}
	return providers.ScanSSE(ctx, resp.Body, p.Name(), p.parseEvent), nil
}

// HealthCheck 通过模型列表接口探活。
func (p *ClaudeProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.Probe(ctx, p.Cfg.BaseURL+"/v1/models", p.buildHeaders)
}

func (p *ClaudeProvider) parseEvent(data []byte) (string, bool, error) {
	var event claudeStreamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return "", false, err
	}
	switch event.Type {
	case "content_block_delta":
		if event.Delta != nil && event.Delta.Type == "text_delta" {
			return event.Delta.Text, false, nil
		}
	case "message_stop":
		return "", true, nil
	case "error":
		msg := "stream error"
		code := types.ErrUpstreamError
		if event.Error != nil {
			msg = event.Error.Message
			if event.Error.Type == "overloaded_error" {
				code = types.ErrModelOverloaded
			}
		}
		return "", true, types.NewTransientError(code, msg).WithProvider(p.Name())
	}
	// message_start / content_block_start / ping 等
	return "", false, nil
}
