/*
# 概述

包 gemini 提供 Google Gemini 模型的 llm.Handler 实现。该包直接对接
Gemini REST API（generativelanguage.googleapis.com），自行处理请求构建、
响应解析与流式输出，不依赖 openaicompat 兼容层。

# 支持能力

  - Chat（/v1beta/models/{model}:generateContent）
  - 流式输出（/v1beta/models/{model}:streamGenerateContent?alt=sse）
  - systemInstruction 传递 system 消息，assistant 角色映射为 model
  - promptFeedback.blockReason 与 SAFETY 拦截映射为 CONTENT_FILTERED（终止）
  - HealthCheck
*/
package gemini
