package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/api"
	"github.com/BaSui01/counselflow/internal/metrics"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthCheck 可插拔的就绪检查
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// LatencySource 提供阶段延迟汇总
type LatencySource interface {
	Snapshot() map[string]metrics.StageSummary
}

// HealthHandler 存活、就绪与延迟汇总
type HealthHandler struct {
	logger  *zap.Logger
	version string
	timeout time.Duration
	latency LatencySource

	mu     sync.RWMutex
	checks []HealthCheck
}

// NewHealthHandler 创建处理器；latency 可为 nil
func NewHealthHandler(version string, latency LatencySource, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health_handler")),
		version: version,
		timeout: 5 * time.Second,
		latency: latency,
	}
}

// RegisterCheck 注册就绪检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// HandleHealthz 存活探针，只要进程在运行就返回 200
// @Summary 存活探针
// @Tags 健康
// @Produce json
// @Success 200 {object} api.HealthResponse
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, api.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   h.version,
	})
}

// HandleReady 就绪探针，任一检查失败返回 503
// @Summary 就绪探针
// @Tags 健康
// @Produce json
// @Success 200 {object} api.HealthResponse
// @Failure 503 {object} api.HealthResponse
// @Router /readyz [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	resp := api.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   h.version,
		Checks:    make(map[string]api.CheckResult, len(checks)),
	}
	healthy := true
	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := api.CheckResult{Status: "pass", Latency: latency.String()}
		if err != nil {
			healthy = false
			result.Status = "fail"
			result.Message = err.Error()
			h.logger.Warn("readiness check failed",
				zap.String("check", check.Name()),
				zap.Duration("latency", latency),
				zap.Error(err))
		}
		resp.Checks[check.Name()] = result
	}

	if !healthy {
		resp.Status = "unavailable"
		WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// HandleLatency 各阶段的滚动延迟汇总（毫秒）
// @Summary 阶段延迟
// @Tags 指标
// @Produce json
// @Router /metrics/latency [get]
func (h *HealthHandler) HandleLatency(w http.ResponseWriter, r *http.Request) {
	summary := map[string]metrics.StageSummary{}
	if h.latency != nil {
		summary = h.latency.Snapshot()
	}
	WriteJSON(w, http.StatusOK, map[string]any{"latency": summary})
}

// HandleVersion 版本信息
func (h *HealthHandler) HandleVersion(buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, map[string]string{
			"version":    h.version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置检查
// =============================================================================

// PingCheck 以函数形式接入的检查，用于数据库、Redis、Qdrant
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck 创建检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }
