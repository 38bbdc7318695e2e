// Package telemetry 初始化 OpenTelemetry trace 与 metric 导出（OTLP gRPC）。
// 禁用时只注册 W3C 传播器，不创建导出器。
package telemetry
