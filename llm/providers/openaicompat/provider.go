package openaicompat

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

// Preset holds what differs between OpenAI-compatible families.
type Preset struct {
	// BaseURL is used when the binding leaves it empty.
	BaseURL string

	// EndpointPath is the chat completions endpoint path.
	EndpointPath string

	// ModelsEndpoint is the models list endpoint path, used by HealthCheck.
	ModelsEndpoint string

	// FallbackModel is used when the binding names no model.
	FallbackModel string

	// ExtraHeaders are set on every request.
	ExtraHeaders map[string]string
}

// Presets 按协议族给出默认地址与路径。
var Presets = map[string]Preset{
	llm.FamilyOpenAI: {
		BaseURL: "https://api.openai.com", EndpointPath: "/v1/chat/completions",
		ModelsEndpoint: "/v1/models", FallbackModel: "gpt-4o-mini",
	},
	llm.FamilyDeepSeek: {
		BaseURL: "https://api.deepseek.com", EndpointPath: "/chat/completions",
		ModelsEndpoint: "/models", FallbackModel: "deepseek-chat",
	},
	llm.FamilyGrok: {
		BaseURL: "https://api.x.ai", EndpointPath: "/v1/chat/completions",
		ModelsEndpoint: "/v1/models", FallbackModel: "grok-beta",
	},
	llm.FamilyOpenRouter: {
		BaseURL: "https://openrouter.ai/api", EndpointPath: "/v1/chat/completions",
		ModelsEndpoint: "/v1/models", FallbackModel: "openrouter/auto",
		ExtraHeaders: map[string]string{"X-Title": "chatcore"},
	},
	llm.FamilyQwen: {
		BaseURL: "https://dashscope.aliyuncs.com", EndpointPath: "/compatible-mode/v1/chat/completions",
		ModelsEndpoint: "/compatible-mode/v1/models", FallbackModel: "qwen-plus",
	},
	llm.FamilyOllama: {
		BaseURL: "http://localhost:11434", EndpointPath: "/v1/chat/completions",
		ModelsEndpoint: "/v1/models", FallbackModel: "llama3.1",
	},
}

// Handler is the llm.Handler for every OpenAI Chat Completions compatible family.
type Handler struct {
	providers.Base
	preset Preset
}

// New creates a handler for cfg. Unknown families fall back to the openai preset
// with the binding's own BaseURL.
func New(cfg llm.ModelConfig, logger *zap.Logger) *Handler {
	preset, ok := Presets[cfg.Family]
	if !ok {
		preset = Presets[llm.FamilyOpenAI]
	}
	if cfg.Model == "" {
		cfg.Model = preset.FallbackModel
	}
	return &Handler{
		Base:   providers.NewBase(cfg, preset.BaseURL, logger),
		preset: preset,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	FinishReason string       `json:"finish_reason"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

func (h *Handler) buildHeaders(req *http.Request) {
	if h.Cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.Cfg.APIKey)
	}
	for k, v := range h.preset.ExtraHeaders {
		req.Header.Set(k, v)
	}
}

func (h *Handler) endpoint(path string) string {
	return h.Cfg.BaseURL + path
}

func (h *Handler) body(req *llm.ChatRequest, stream bool) chatRequest {
	msgs := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return chatRequest{
		Model:       h.Cfg.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

// Chat sends one non-streaming completion. The caller bounds the attempt.
func (h *Handler) Chat(ctx context.Context, req *llm.ChatRequest) (string, error) {
	resp, err := h.PostJSON(ctx, h.endpoint(h.preset.EndpointPath), h.body(req, false), h.buildHeaders)
	if err != nil {
		return "", err
	}
	var out chatResponse
	if err := h.DecodeJSON(resp, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 || out.Choices[0].Message == nil {
		return "", types.NewTransientError(types.ErrUpstreamError, "response has no choices").
			WithProvider(h.Name())
	}
	return out.Choices[0].Message.Content, nil
}

// ChatStream opens an SSE completion stream.
func (h *Handler) ChatStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	resp, err := h.PostJSON(ctx, h.endpoint(h.preset.EndpointPath), h.body(req, true), func(r *http.Request) {
		h.buildHeaders(r)
		r.Header.Set("Accept", "text/event-stream")
	})
	if err != nil {
		return nil, err
	}
	return providers.ScanSSE(ctx, resp.Body, h.Name(), parseEvent), nil
}

// HealthCheck lists models as a cheap liveness probe.
func (h *Handler) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return h.Probe(ctx, h.endpoint(h.preset.ModelsEndpoint), h.buildHeaders)
}

func parseEvent(data []byte) (string, bool, error) {
	var ev chatResponse
	if err := json.Unmarshal(data, &ev); err != nil {
		return "", false, err
	}
	var sb strings.Builder
	done := false
	for _, c := range ev.Choices {
		if c.Delta != nil {
			sb.WriteString(c.Delta.Content)
		}
		if c.FinishReason != "" {
			done = true
		}
	}
	return sb.String(), done, nil
}
