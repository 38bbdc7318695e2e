/*
包 database 提供基于 GORM 的连接池管理与运行审计存储。

PoolManager 封装 gorm.DB 与底层 sql.DB，支持 postgres、mysql 与
纯 Go 的 sqlite 方言，提供健康检查、事务与瞬时错误重试。

RunRepository 将每次结束的运行写入 counsel_runs 表。表中只保存
规范化问题文本的哈希，从不保存原文。表结构由 internal/migration 管理。
*/
package database
