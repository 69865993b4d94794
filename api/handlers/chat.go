package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/SkastVnT/AI-Assistant-sub002/api"
	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/orchestrator"
	"github.com/SkastVnT/AI-Assistant-sub002/types"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// =============================================================================
// 💬 聊天接口 Handler
// =============================================================================

// ChatService 是 ChatHandler 依赖的编排器能力
type ChatService interface {
	Chat(ctx context.Context, cc llm.ChatContext, model string, opts ...orchestrator.ChatOption) *llm.ChatResponse
	ChatStream(ctx context.Context, cc llm.ChatContext, model string, opts ...orchestrator.ChatOption) <-chan llm.StreamChunk
}

// ChatHandler 聊天接口处理器
type ChatHandler struct {
	service        ChatService
	registry       *llm.ModelRegistry
	originPatterns []string
	logger         *zap.Logger
}

// ChatHandlerOption 配置 ChatHandler
type ChatHandlerOption func(*ChatHandler)

// WithOriginPatterns 设置 WebSocket 允许的跨域来源（host 模式，如 "*.example.com"）
func WithOriginPatterns(patterns []string) ChatHandlerOption {
	return func(h *ChatHandler) { h.originPatterns = patterns }
}

// NewChatHandler 创建聊天处理器
func NewChatHandler(service ChatService, registry *llm.ModelRegistry, logger *zap.Logger, opts ...ChatHandlerOption) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ChatHandler{
		service:  service,
		registry: registry,
		logger:   logger.With(zap.String("handler", "chat")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleChat 处理一次性聊天请求
// @Summary 聊天
// @Description 通过降级链发送一次聊天请求
// @Tags 聊天
// @Accept json
// @Produce json
// @Param request body api.ChatRequest true "聊天请求"
// @Success 200 {object} Response{data=api.ChatResponse} "聊天响应"
// @Failure 400 {object} Response "无效请求"
// @Failure 404 {object} Response "模型不存在"
// @Failure 502 {object} Response{data=api.ChatResponse} "所有候选均失败"
// @Security ApiKeyAuth
// @Router /api/v1/chat [post]
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	resp := h.service.Chat(r.Context(), req.ChatContext(), req.Model, chatOptions(req)...)
	out := api.NewChatResponse(resp)

	h.logger.Info("chat completed",
		zap.String("request_id", requestID(r)),
		zap.String("model", resp.Model),
		zap.Bool("success", resp.Success),
		zap.Bool("fallback", resp.IsFallback),
		zap.Bool("cached", resp.Cached),
		zap.Int("retries", resp.RetryCount),
		zap.Duration("duration", resp.Duration),
	)

	if resp.Success {
		WriteSuccess(w, r, out)
		return
	}
	code := types.ErrUpstreamError
	if errors.Is(r.Context().Err(), context.Canceled) {
		code = types.ErrCanceled
	}
	writeErrorWithData(w, r, types.NewError(code, resp.Error), out, h.logger)
}

// HandleStream 处理流式聊天请求（SSE）
// @Summary 流式聊天
// @Description 以 Server-Sent Events 返回增量片段，结束时发送 [DONE]
// @Tags 聊天
// @Accept json
// @Produce text/event-stream
// @Param request body api.ChatRequest true "聊天请求"
// @Success 200 {string} string "SSE 流"
// @Failure 400 {object} Response "无效请求"
// @Security ApiKeyAuth
// @Router /api/v1/chat/stream [post]
func (h *ChatHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteErrorMessage(w, r, http.StatusInternalServerError, types.ErrInternalError, "streaming not supported", h.logger)
		return
	}

	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	fragments := 0
	for chunk := range h.service.ChatStream(r.Context(), req.ChatContext(), req.Model, chatOptions(req)...) {
		if chunk.Err != nil {
			h.logger.Warn("stream ended with error",
				zap.String("request_id", requestID(r)),
				zap.Int("fragments", fragments),
				zap.Error(chunk.Err))
			_ = writeSSE(w, "error", api.NewStreamEvent(chunk))
			flusher.Flush()
			return
		}
		fragments++
		if err := writeSSE(w, "", api.NewStreamEvent(chunk)); err != nil {
			h.logger.Debug("client went away", zap.Error(err))
			return
		}
		flusher.Flush()
	}

	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// writeSSE 写一个 SSE 事件；负载经 json.Marshal 转义
func writeSSE(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var sb strings.Builder
	if event != "" {
		sb.WriteString("event: ")
		sb.WriteString(event)
		sb.WriteString("\n")
	}
	sb.WriteString("data: ")
	sb.Write(data)
	sb.WriteString("\n\n")
	_, err = w.Write([]byte(sb.String()))
	return err
}

// HandleWebSocket 处理 WebSocket 聊天：每条入站消息是一个 ChatRequest，
// 出站为该请求的 StreamEvent 序列，以 done=true 的事件结束。
// @Summary WebSocket 聊天
// @Tags 聊天
// @Security ApiKeyAuth
// @Router /api/v1/chat/ws [get]
func (h *ChatHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxBodyBytes)

	ctx := r.Context()
	for {
		var req api.ChatRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				h.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}

		if apiErr := h.validate(&req); apiErr != nil {
			if err := wsjson.Write(ctx, conn, api.StreamEvent{Done: true, Error: api.NewErrorDetail(apiErr)}); err != nil {
				return
			}
			continue
		}

		for chunk := range h.service.ChatStream(ctx, req.ChatContext(), req.Model, chatOptions(&req)...) {
			if err := wsjson.Write(ctx, conn, api.NewStreamEvent(chunk)); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
		if err := wsjson.Write(ctx, conn, api.StreamEvent{Done: true}); err != nil {
			return
		}
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (h *ChatHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (*api.ChatRequest, bool) {
	if !ValidateContentType(w, r, h.logger) {
		return nil, false
	}
	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return nil, false
	}
	if apiErr := h.validate(&req); apiErr != nil {
		WriteError(w, r, apiErr, h.logger)
		return nil, false
	}
	return &req, true
}

// validate 校验请求；显式指定的模型必须已注册
func (h *ChatHandler) validate(req *api.ChatRequest) *types.Error {
	if strings.TrimSpace(req.Message) == "" {
		return types.NewError(types.ErrInvalidRequest, "message is required")
	}
	if req.Model != "" && h.registry != nil && !h.registry.Has(req.Model) {
		return types.NewError(types.ErrModelNotFound, "model "+req.Model+" is not available")
	}
	if emptyTurn(req.History) || emptyTurn(req.ExplicitHistory) {
		return types.NewError(types.ErrInvalidRequest, "history turns must not be empty")
	}
	return nil
}

func emptyTurn(turns []api.Turn) bool {
	for _, t := range turns {
		if t.User == "" && t.Assistant == "" {
			return true
		}
	}
	return false
}

func chatOptions(req *api.ChatRequest) []orchestrator.ChatOption {
	return []orchestrator.ChatOption{
		orchestrator.WithFallback(req.FallbackEnabled()),
		orchestrator.WithCache(req.CacheEnabled()),
	}
}
