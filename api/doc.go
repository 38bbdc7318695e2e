// Package api 定义 CounselFlow HTTP API 的请求与响应结构。
//
// # 路由
//
//   - POST /v1/retrieve         同步咨询，返回完整答案
//   - POST /v1/retrieve/stream  SSE 事件流，以 data: [DONE] 结束
//   - GET  /v1/retrieve/ws      WebSocket，首条消息为请求
//   - GET  /healthz, /readyz    存活与就绪检查
//   - GET  /metrics/latency     阶段延迟摘要
//
// # 认证
//
// 启用 auth 后，/v1 路由需要 Bearer JWT：
//
//	Authorization: Bearer <token>
package api
