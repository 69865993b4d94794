// Package context 在 Provider 的上下文窗口预算内裁剪对话历史。
//
// 预算公式：available = floor(limit * TargetUsage) - tokens(system) - tokens(message) - Reserve。
// 历史按轮次从新到旧累加，超出预算前停止，结果按时间顺序返回。
// 单独一轮就超出预算时整轮丢弃，不会在轮次中间截断。
package context
