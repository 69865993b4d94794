package handlers

import (
	"net/http"
	"strconv"

	"github.com/SkastVnT/AI-Assistant-sub002/api"
	"github.com/SkastVnT/AI-Assistant-sub002/config"
	"github.com/SkastVnT/AI-Assistant-sub002/types"

	"go.uber.org/zap"
)

// =============================================================================
// ⚙️ 配置 Handler
// =============================================================================

// ConfigHandler 暴露脱敏后的运行配置、变更日志以及重载与回滚入口
type ConfigHandler struct {
	manager *config.HotReloadManager
	logger  *zap.Logger
}

// NewConfigHandler 创建配置处理器
func NewConfigHandler(manager *config.HotReloadManager, logger *zap.Logger) *ConfigHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigHandler{manager: manager, logger: logger.With(zap.String("handler", "config"))}
}

// HandleGet 返回当前配置（敏感字段已脱敏）
// @Summary 当前配置
// @Tags 配置
// @Produce json
// @Success 200 {object} Response "脱敏配置"
// @Security ApiKeyAuth
// @Router /api/v1/config [get]
func (h *ConfigHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	cfg := h.manager.SanitizedConfig()
	if cfg == nil {
		WriteErrorMessage(w, r, http.StatusInternalServerError, types.ErrInternalError, "failed to render config", h.logger)
		return
	}
	WriteSuccess(w, r, map[string]any{
		"version": h.manager.GetCurrentVersion(),
		"config":  cfg,
	})
}

// HandleReload 重新读取配置文件
// @Summary 重载配置
// @Description 重新读取配置文件；日志级别与提示词模板立即生效，其余字段需重启
// @Tags 配置
// @Produce json
// @Success 200 {object} Response{data=api.ConfigReloadResponse}
// @Failure 400 {object} Response "配置无效，保留当前配置"
// @Security ApiKeyAuth
// @Router /api/v1/config/reload [post]
func (h *ConfigHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	changes, err := h.manager.Reload("api")
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrInvalidRequest, err.Error()), h.logger)
		return
	}

	out := api.ConfigReloadResponse{
		Version: h.manager.GetCurrentVersion(),
		Changed: make([]string, 0, len(changes)),
	}
	for _, c := range changes {
		out.Changed = append(out.Changed, c.Path)
		if c.RequiresRestart {
			out.RequiresRestart = append(out.RequiresRestart, c.Path)
		}
	}
	h.logger.Info("configuration reloaded via API",
		zap.String("request_id", requestID(r)),
		zap.Strings("changed", out.Changed))
	WriteSuccess(w, r, out)
}

// defaultChangeLimit changes 接口未指定 limit 时返回的条数
const defaultChangeLimit = 50

// HandleChanges 返回最近的配置变更
// @Summary 配置变更日志
// @Tags 配置
// @Produce json
// @Param limit query int false "返回条数，默认 50"
// @Success 200 {object} Response{data=[]api.ConfigChangeEntry}
// @Security ApiKeyAuth
// @Router /api/v1/config/changes [get]
func (h *ConfigHandler) HandleChanges(w http.ResponseWriter, r *http.Request) {
	limit := defaultChangeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a positive integer", h.logger)
			return
		}
		limit = n
	}

	changes := h.manager.GetChangeLog(limit)
	out := make([]api.ConfigChangeEntry, 0, len(changes))
	for _, c := range changes {
		out = append(out, api.ConfigChangeEntry{
			Timestamp:       c.Timestamp,
			Source:          c.Source,
			Path:            c.Path,
			Applied:         c.Applied,
			RequiresRestart: c.RequiresRestart,
			Error:           c.Error,
		})
	}
	WriteSuccess(w, r, out)
}

// HandleRollback 回滚到上一次生效前的配置
// @Summary 回滚配置
// @Tags 配置
// @Produce json
// @Success 200 {object} Response "回滚后的版本号"
// @Failure 409 {object} Response "没有可回滚的配置"
// @Security ApiKeyAuth
// @Router /api/v1/config/rollback [post]
func (h *ConfigHandler) HandleRollback(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Rollback(); err != nil {
		WriteErrorMessage(w, r, http.StatusConflict, types.ErrInvalidRequest, err.Error(), h.logger)
		return
	}
	h.logger.Warn("configuration rolled back via API", zap.String("request_id", requestID(r)))
	WriteSuccess(w, r, map[string]any{"version": h.manager.GetCurrentVersion()})
}
