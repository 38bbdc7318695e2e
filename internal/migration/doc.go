/*
包 migration 基于 golang-migrate 管理 counsel_runs 审计表的结构。

迁移 SQL 按数据库类型内嵌在 migrations/{postgres,mysql,sqlite} 下，
通过 iofs 源驱动加载。sqlite 使用纯 Go 驱动，无需 cgo。

CLI 为 `counselflow migrate up|down|status|version|steps|goto|force`
提供输出格式。
*/
package migration
