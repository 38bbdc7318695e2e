/*
包 cache 提供基于 Redis 的缓存能力，核心用途是实时咨询模式下的 FAQ 答案缓存。

# 核心类型

  - Manager：持有 go-redis 客户端，负责连接、健康检查与关闭，
    提供 Get/Set/GetJSON/SetJSON/Delete 基础操作。
  - FAQCache：以规范化问题文本的 SHA-256 为键存储答案；
    精确未命中时在索引集合上按词集 Jaccard 相似度扫描，
    阈值默认 0.85，条目默认保留 30 天。

只有 clear 等级的答案可以写入缓存。过期条目会在扫描时从索引中移除。
*/
package cache
