/*
# 概述

包 providers 提供各协议族适配器共享的基础层。具体适配器（openaicompat、
anthropic、gemini）嵌入 Base，只负责各自的请求构建与响应解析，错误映射、
HTTP 执行与 SSE 读取统一在本包完成。

# 核心类型

  - Base：绑定配置、安全 HTTP Client 与日志；提供 PostJSON / DecodeJSON / Probe
  - EventParser：单条 SSE data 负载到文本增量的解析函数

# 核心函数

  - MapHTTPError：将 HTTP 状态码映射为 types.Error（含 Retryable 标记）
  - ReadErrorMessage：解析上游 JSON 错误体，失败回退原始文本
  - ScanSSE：无缓冲地逐条转发 SSE 增量，每次发送都监听 ctx.Done()

# 错误语义

  - 401/403/400/其他 4xx 为终止错误
  - 408/429/5xx/529 以及超时、连接失败为瞬时错误
  - 调用方取消映射为 CANCELED（终止）
*/
package providers
