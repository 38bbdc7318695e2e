/*
包 metrics 提供基于 Prometheus 的指标采集，以及进程内的阶段延迟汇总。

# 核心类型

  - Collector：持有 Counter、Histogram、Gauge 向量指标，按 namespace 隔离，
    使用 promauto 自动注册。
  - LatencyMonitor：每个阶段的次数、平均、最大与最近窗口 p95，
    由 /metrics/latency 输出。

# 主要能力

  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - 流水线指标：阶段耗时、运行终态、策略选择、安全等级、SLA 超时、
    检索源失败、合并证据数与子问题数。
  - 缓存指标：FAQ 缓存命中与未命中。
  - 数据库指标：活跃/空闲连接数。
*/
package metrics
