/*
# 概述

Package rag 负责咨询问题的证据检索：按策略调度向量检索与图检索，
对复杂问题拆分子问题并发检索，最后合并去重。

# 核心接口/类型

  - Retriever：检索接口（QdrantRetriever / GraphRetriever / FallbackRetriever）
  - Orchestrator：按 Strategy 执行检索计划，返回 Result
  - QueryTransformer：子问题分解（LLM + 启发式）与检索查询改写
  - Merger：按 (source, section_path) 去重、稳定排序、截断

# 降级

单个检索源失败记为零证据并标记 RETRIEVAL_SOURCE_UNAVAILABLE；
图检索失败自动降级为向量检索；全部子问题失败时标记 ALL_RETRIEVAL_FAILED。
*/
package rag
