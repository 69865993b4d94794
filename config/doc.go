// Package config 提供 chatcore 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → CHATCORE_* 环境变量 的顺序叠加，
// 加载后执行完整校验（端口、重试策略、上下文比例、模型名唯一、
// 降级表目标存在且无环）。HotReloadManager 监听配置文件，
// 对日志级别与提示词模板支持不重启生效。
package config
