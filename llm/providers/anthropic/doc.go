/*
# 概述

包 claude 提供 Anthropic Claude 系列模型的 llm.Handler 实现，
将统一请求映射到 Anthropic Messages API（/v1/messages）。

# 协议差异

  - 认证使用 x-api-key 请求头（非 Bearer Token），并携带 anthropic-version
  - system 消息从 messages 数组中提取，单独传递到 system 字段
  - max_tokens 为必填字段，请求未给出时使用绑定的 MaxTokens
  - 流式 SSE 事件结构独立（message_start / content_block_delta / message_stop）
  - 529 与流内 overloaded_error 映射为 MODEL_OVERLOADED（瞬时）

# 支持能力

  - Chat（同步）与 ChatStream（SSE）
  - 健康检查（/v1/models）
*/
package claude
