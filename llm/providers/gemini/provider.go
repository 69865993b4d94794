package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/providers"
	"github.com/SkastVnT/AI-Assistant-sub002/types"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-1.5-flash"
)

// GeminiProvider 实现 Google Gemini 的 llm.Handler
// Gemini API 特点：
// 1. 使用 x-goog-api-key 请求头认证
// 2. assistant 角色称为 model
// 3. system 消息通过 systemInstruction 传递
type GeminiProvider struct {
	providers.Base
}

// NewGeminiProvider 创建 Gemini Provider
func NewGeminiProvider(cfg llm.ModelConfig, logger *zap.Logger) *GeminiProvider {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return &GeminiProvider{Base: providers.NewBase(cfg, defaultBaseURL, logger)}
}

// Gemini 消息结构
type geminiContent struct {
	Role  string       `json:"role,omitempty"` // user, model
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

func (p *GeminiProvider) buildHeaders(req *http.Request) {
	// Gemini 使用 x-goog-api-key 认证
	req.Header.Set("x-goog-api-key", p.Cfg.APIKey)
}

func convertToGeminiContents(msgs []types.Message) (*geminiContent, []geminiContent) {
	var system *geminiContent
	contents := make([]geminiContent, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == types.RoleSystem {
			if system == nil {
				system = &geminiContent{}
			}
			system.Parts = append(system.Parts, geminiPart{Text: m.Content})
			continue
		}
		if m.Content == "" {
			continue
		}
		role := string(m.Role)
		if m.Role == types.RoleAssistant {
			role = "model" // Gemini 使用 "model" 而不是 "assistant"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	return system, contents
}

func (p *GeminiProvider) body(req *llm.ChatRequest) geminiRequest {
	system, contents := convertToGeminiContents(req.Messages)
	return geminiRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
}

func (p *GeminiProvider) endpoint(action string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:%s", p.Cfg.BaseURL, p.Cfg.Model, action)
}

// Chat 发起一次同步请求
func (p *GeminiProvider) Chat(ctx context.Context, req *llm.ChatRequest) (string, error) {
	resp, err := p.PostJSON(ctx, p.endpoint("generateContent"), p.body(req), p.buildHeaders)
	if err != nil {
		return "", err
	}
	var gr geminiResponse
	if err := p.DecodeJSON(resp, &gr); err != nil {
		return "", err
	}
	text, err := p.extract(gr)
	if err != nil {
		return "", err
	}
	if len(gr.Candidates) == 0 {
		return "", types.NewTransientError(types.ErrUpstreamError, "response has no candidates").
			WithProvider(p.Name())
	}
	return text, nil
}

// ChatStream 发起 SSE 流式请求
func (p *GeminiProvider) ChatStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	resp, err := p.PostJSON(ctx, p.endpoint("streamGenerateContent?alt=sse"), p.body(req), p.buildHeaders)
	if err != nil {
		return nil, err
	}
	return providers.ScanSSE(ctx, resp.Body, p.Name(), func(data []byte) (string, bool, error) {
		var gr geminiResponse
		if err := json.Unmarshal(data, &gr); err != nil {
			return "", false, err
		}
		text, err := p.extract(gr)
		if err != nil {
			return "", true, err
		}
		done := false
		for _, c := range gr.Candidates {
			if c.FinishReason != "" {
				done = true
			}
		}
		return text, done, nil
	}), nil
}

// HealthCheck 查询当前模型元数据
func (p *GeminiProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.Probe(ctx, fmt.Sprintf("%s/v1beta/models/%s", p.Cfg.BaseURL, p.Cfg.Model), p.buildHeaders)
}

// extract 拼接第一个候选的文本；被安全策略拦截时返回终止错误
func (p *GeminiProvider) extract(gr geminiResponse) (string, error) {
	if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
		return "", types.NewError(types.ErrContentFiltered, "prompt blocked: "+gr.PromptFeedback.BlockReason).
			WithProvider(p.Name())
	}
	if len(gr.Candidates) == 0 {
		return "", nil
	}
	c := gr.Candidates[0]
	if c.FinishReason == "SAFETY" && len(c.Content.Parts) == 0 {
		return "", types.NewError(types.ErrContentFiltered, "response blocked by safety filter").
			WithProvider(p.Name())
	}
	var sb strings.Builder
	for _, part := range c.Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}
