/*
Package main 提供 CounselFlow 服务端程序入口。

# 概述

cmd/counselflow 组装咨询检索流水线（问题分析 → 策略选择 → 并行检索 →
证据合并 → 答案合成），并通过 HTTP、SSE 与 WebSocket 对外提供服务。

# 子命令

  - serve    启动服务，--config 指定 YAML 配置
  - migrate  运行审计库迁移（up/down/steps/goto/force/status/version）
  - health   探测 /healthz，--ready 时探测 /readyz
  - version  打印构建信息

# 中间件

全局链：Recovery → RequestID → SecurityHeaders → CORS → OTelTracing →
MetricsMiddleware → RequestLogger。/v1 路由额外经过 JWTAuth（启用认证时）
和按咨询师或 IP 计数的 RateLimiter。

# 热重载

配置文件变更后，日志级别与限流参数立即生效，其余字段记录变更并提示重启。
*/
package main
