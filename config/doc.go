// Package config 提供 CounselFlow 的配置管理。
//
// 加载顺序为默认值、YAML 文件、COUNSELFLOW_ 前缀的环境变量，最后执行 Validate。
// Reloader 监听配置文件，日志级别与限流参数可在运行期生效，
// 其余字段的变更只记录并提示重启。
package config
