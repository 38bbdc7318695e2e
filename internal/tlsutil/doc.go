// Package tlsutil 集中管理 TLS 设置：出站 HTTP 客户端（LLM、Qdrant）与 HTTPS 服务端
// 共用同一份加固配置。
package tlsutil
