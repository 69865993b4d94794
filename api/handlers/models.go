package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/api"
	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/circuitbreaker"
	"github.com/SkastVnT/AI-Assistant-sub002/llm/fallback"
	"github.com/SkastVnT/AI-Assistant-sub002/types"

	"go.uber.org/zap"
)

// =============================================================================
// 🧩 模型与熔断器 Handler
// =============================================================================

// probeTimeout 限制单次上游探测
const probeTimeout = 10 * time.Second

// ModelsHandler 暴露已注册模型绑定及其熔断器状态
type ModelsHandler struct {
	registry *llm.ModelRegistry
	breakers *circuitbreaker.Registry
	fallback *fallback.Manager
	logger   *zap.Logger
}

// NewModelsHandler 创建模型处理器；fallback 可为 nil
func NewModelsHandler(registry *llm.ModelRegistry, breakers *circuitbreaker.Registry, fb *fallback.Manager, logger *zap.Logger) *ModelsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelsHandler{
		registry: registry,
		breakers: breakers,
		fallback: fb,
		logger:   logger.With(zap.String("handler", "models")),
	}
}

// HandleList 列出模型
// @Summary 模型列表
// @Description 列出可用的模型绑定、降级候选与熔断器状态（不含凭证）
// @Tags 模型
// @Produce json
// @Success 200 {object} Response{data=[]api.ModelInfo} "模型列表"
// @Security ApiKeyAuth
// @Router /api/v1/models [get]
func (h *ModelsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	def := h.registry.Default()
	configs := h.registry.Configs()
	out := make([]api.ModelInfo, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, api.NewModelInfo(cfg, cfg.Name == def, h.alternates(cfg.Name), h.snapshot(cfg.Name)))
	}
	WriteSuccess(w, r, out)
}

// HandleGet 查询单个模型
// @Summary 模型详情
// @Tags 模型
// @Produce json
// @Param name path string true "模型绑定名"
// @Success 200 {object} Response{data=api.ModelInfo}
// @Failure 404 {object} Response "模型不存在"
// @Security ApiKeyAuth
// @Router /api/v1/models/{name} [get]
func (h *ModelsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	_, cfg, ok := h.registry.Get(name)
	if !ok {
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrModelNotFound, "model "+name+" is not available", h.logger)
		return
	}
	WriteSuccess(w, r, api.NewModelInfo(cfg, name == h.registry.Default(), h.alternates(name), h.snapshot(name)))
}

// HandleResetBreaker 将熔断器强制复位为 CLOSED
// @Summary 复位熔断器
// @Tags 模型
// @Produce json
// @Param name path string true "模型绑定名"
// @Success 200 {object} Response{data=circuitbreaker.Snapshot}
// @Failure 404 {object} Response "模型不存在"
// @Security ApiKeyAuth
// @Router /api/v1/models/{name}/reset [post]
func (h *ModelsHandler) HandleResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !h.registry.Has(name) {
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrModelNotFound, "model "+name+" is not available", h.logger)
		return
	}
	// 尚未被调用过的 Provider 没有熔断器，复位视为 no-op
	if h.breakers.Reset(name) {
		h.logger.Info("circuit breaker reset by operator",
			zap.String("model", name),
			zap.String("request_id", requestID(r)))
	}
	WriteSuccess(w, r, h.breakers.Get(name).Snapshot())
}

// HandleProbe 直接探测上游（不经过熔断器，也不计入失败次数）
// @Summary 探测模型上游
// @Tags 模型
// @Produce json
// @Param name path string true "模型绑定名"
// @Success 200 {object} Response{data=llm.HealthStatus}
// @Failure 404 {object} Response "模型不存在"
// @Failure 501 {object} Response "适配器不支持探测"
// @Failure 503 {object} Response{data=llm.HealthStatus} "上游不可用"
// @Security ApiKeyAuth
// @Router /api/v1/models/{name}/health [get]
func (h *ModelsHandler) HandleProbe(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	handler, _, ok := h.registry.Get(name)
	if !ok {
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrModelNotFound, "model "+name+" is not available", h.logger)
		return
	}
	checker, ok := handler.(llm.HealthChecker)
	if !ok {
		WriteErrorMessage(w, r, http.StatusNotImplemented, types.ErrInvalidRequest, "model "+name+" does not support health probes", h.logger)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()
	status, err := checker.HealthCheck(ctx)
	if err != nil {
		te := types.NewError(types.ErrUpstreamError, err.Error()).
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithCause(err)
		writeErrorWithData(w, r, te, status, h.logger)
		return
	}
	WriteSuccess(w, r, status)
}

func (h *ModelsHandler) alternates(name string) []string {
	if h.fallback == nil {
		return nil
	}
	return h.fallback.Alternates(name)
}

func (h *ModelsHandler) snapshot(name string) *circuitbreaker.Snapshot {
	b, ok := h.breakers.Lookup(name)
	if !ok {
		return nil
	}
	s := b.Snapshot()
	return &s
}
