/*
Package handlers 提供 CounselFlow HTTP API 的请求处理器。

# 核心类型

  - RetrieveHandler  同步、SSE 与 WebSocket 三种咨询入口
  - HealthHandler    存活、就绪探针与阶段延迟汇总
  - ResponseWriter   捕获状态码并保留 Flush/Hijack

所有错误通过 WriteError 输出为 api.Response 信封，
types.Error 的 Cause 只写日志，不返回给客户端。
流式端点在写出响应头之前完成参数校验，参数错误仍以 JSON 返回。
*/
package handlers
