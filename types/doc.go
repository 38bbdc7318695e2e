/*
Package types 定义咨询检索流水线各包共享的领域类型与错误体系。

types 位于依赖最底层，不引用任何内部包。

# 核心类型

  - Question / Analysis / Strategy：问题、分析结果与检索策略
  - Evidence / Provenance / SubQuestion：证据及其来源
  - Answer / SafetyAnnotation / SafetyLevel：答案与安全分级（clear < caution < escalate）
  - Event / Stage / Observation：运行事件流与观测记录
  - RunSummary：写入审计库的运行摘要
  - Error / ErrorCode：结构化错误，含 HTTP 状态码与 Retryable 标记

# 错误工具

NewError、WrapError、AsError、IsErrorCode、IsRetryable，以及检索源失败、
合成失败等常用构造函数。
*/
package types
