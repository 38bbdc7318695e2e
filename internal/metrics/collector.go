package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 流水线指标
	stageDuration   *prometheus.HistogramVec
	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	strategyTotal   *prometheus.CounterVec
	safetyTotal     *prometheus.CounterVec
	slaBreaches     *prometheus.CounterVec
	sourceFailures  *prometheus.CounterVec
	evidenceMerged  prometheus.Histogram
	subQuestionsLen prometheus.Histogram

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	latency *LatencyMonitor
	logger  *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		latency: NewLatencyMonitor(),
		logger:  logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 流水线指标
	c.stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage", "mode"},
	)

	c.runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Total number of pipeline runs by terminal status",
		},
		[]string{"mode", "status"},
	)

	c.runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_duration_seconds",
			Help:      "End-to-end pipeline duration",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 10, 20, 30, 60},
		},
		[]string{"mode"},
	)

	c.strategyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_strategy_total",
			Help:      "Retrieval strategies selected",
		},
		[]string{"strategy", "mode"},
	)

	c.safetyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_safety_level_total",
			Help:      "Final safety level of completed runs",
		},
		[]string{"level"},
	)

	c.slaBreaches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_sla_breaches_total",
			Help:      "SLA breaches (analysis budget or total run budget)",
		},
		[]string{"kind", "mode"},
	)

	c.sourceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_source_failures_total",
			Help:      "Retrieval calls that yielded no evidence because the source failed",
		},
		[]string{"source"},
	)

	c.evidenceMerged = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_evidence_items",
			Help:      "Evidence items after merging",
			Buckets:   prometheus.LinearBuckets(0, 2, 6),
		},
	)

	c.subQuestionsLen = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_sub_questions",
			Help:      "Sub-questions produced by decomposition",
			Buckets:   []float64{1, 2, 3, 4},
		},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// Latency returns the in-process latency summary backing /metrics/latency.
func (c *Collector) Latency() *LatencyMonitor { return c.latency }

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🧭 流水线指标记录
// =============================================================================

// ObserveStage 记录阶段耗时，同时写入进程内延迟汇总
func (c *Collector) ObserveStage(stage, mode string, d time.Duration) {
	c.stageDuration.WithLabelValues(stage, mode).Observe(d.Seconds())
	c.latency.Record(stage, d)
}

// RecordRun 记录一次运行的终态
func (c *Collector) RecordRun(mode, status string, d time.Duration) {
	c.runsTotal.WithLabelValues(mode, status).Inc()
	c.runDuration.WithLabelValues(mode).Observe(d.Seconds())
	c.latency.Record("total", d)
}

// RecordStrategy 记录策略选择
func (c *Collector) RecordStrategy(strategy, mode string) {
	c.strategyTotal.WithLabelValues(strategy, mode).Inc()
}

// RecordSafety 记录最终安全等级
func (c *Collector) RecordSafety(level string) {
	c.safetyTotal.WithLabelValues(level).Inc()
}

// RecordSLABreach kind is "analysis" or "total".
func (c *Collector) RecordSLABreach(kind, mode string) {
	c.slaBreaches.WithLabelValues(kind, mode).Inc()
}

// RecordSourceFailure 记录检索源失败
func (c *Collector) RecordSourceFailure(source string) {
	c.sourceFailures.WithLabelValues(source).Inc()
}

// RecordEvidence 记录合并后的证据数与子问题数
func (c *Collector) RecordEvidence(merged, subQuestions int) {
	c.evidenceMerged.Observe(float64(merged))
	if subQuestions > 0 {
		c.subQuestionsLen.Observe(float64(subQuestions))
	}
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
