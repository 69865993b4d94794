// Package tokenizer 提供上下文窗口预算使用的 Token 估算器。
// 默认按固定字符数除数估算，也可切换为 CJK 感知估算或 tiktoken 精确计数。
package tokenizer
