/*
Package llm 定义流水线对大模型的最小依赖。

子问题拆分、查询改写与答案合成都只需要 Generator（prompt → 文本）。
Resilient 在其外叠加熔断与指数退避重试，空响应按上游错误处理。

子包：

  - providers/openaicompat：OpenAI 兼容的 chat completions 与 embeddings 客户端
  - tokenizer：tiktoken 计数，未知模型回退到字符估算
*/
package llm
