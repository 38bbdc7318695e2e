// config 包的 HTTP 配置管理 API：查询脱敏配置、触发重载、回滚与变更历史。
package config

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/api"
)

// APIHandler 配置管理 API，挂载在需要认证的路由下
type APIHandler struct {
	reloader *Reloader
	logger   *zap.Logger
}

// configView 响应中 Data 字段
type configView struct {
	Version int               `json:"version"`
	Config  map[string]any    `json:"config,omitempty"`
	Fields  map[string]string `json:"hot_reloadable,omitempty"`
	Changes []Change          `json:"changes,omitempty"`
	History []Snapshot        `json:"history,omitempty"`
	Message string            `json:"message,omitempty"`
}

// NewAPIHandler 创建配置 API
func NewAPIHandler(reloader *Reloader, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{reloader: reloader, logger: logger.With(zap.String("component", "config_api"))}
}

// RegisterRoutes 注册路由；wrap 通常是认证中间件
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(next http.Handler) http.Handler { return next }
	}
	mux.Handle("GET /v1/config", wrap(http.HandlerFunc(h.HandleGet)))
	mux.Handle("POST /v1/config/reload", wrap(http.HandlerFunc(h.HandleReload)))
	mux.Handle("POST /v1/config/rollback", wrap(http.HandlerFunc(h.HandleRollback)))
	mux.Handle("GET /v1/config/changes", wrap(http.HandlerFunc(h.HandleChanges)))
}

// HandleGet 返回脱敏后的当前配置与可热重载字段
func (h *APIHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	writeAPIJSON(w, http.StatusOK, api.Response{
		Success: true,
		Data: configView{
			Version: h.reloader.Version(),
			Config:  h.reloader.Sanitized(),
			Fields:  hotReloadable,
			History: h.reloader.History(),
		},
		Timestamp: time.Now(),
	})
}

// HandleReload 从文件重新加载
func (h *APIHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.reloader.Reload(); err != nil {
		h.logger.Warn("manual reload failed", zap.Error(err))
		writeAPIError(w, http.StatusUnprocessableEntity, "CONFIG_RELOAD_FAILED", "configuration reload failed")
		return
	}
	writeAPIJSON(w, http.StatusOK, api.Response{
		Success:   true,
		Data:      configView{Version: h.reloader.Version(), Message: "configuration reloaded"},
		Timestamp: time.Now(),
	})
}

// HandleRollback 回到上一个版本
func (h *APIHandler) HandleRollback(w http.ResponseWriter, r *http.Request) {
	if err := h.reloader.Rollback(); err != nil {
		h.logger.Warn("rollback failed", zap.Error(err))
		writeAPIError(w, http.StatusConflict, "CONFIG_ROLLBACK_FAILED", "no previous configuration to roll back to")
		return
	}
	writeAPIJSON(w, http.StatusOK, api.Response{
		Success:   true,
		Data:      configView{Version: h.reloader.Version(), Message: "configuration rolled back"},
		Timestamp: time.Now(),
	})
}

// HandleChanges 返回最近的变更，limit 默认 50
func (h *APIHandler) HandleChanges(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer")
			return
		}
		limit = n
	}
	writeAPIJSON(w, http.StatusOK, api.Response{
		Success:   true,
		Data:      configView{Version: h.reloader.Version(), Changes: h.reloader.Changes(limit)},
		Timestamp: time.Now(),
	})
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeAPIJSON(w, status, api.Response{
		Success:   false,
		Error:     &api.ErrorInfo{Code: code, Message: message},
		Timestamp: time.Now(),
	})
}

func writeAPIJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
