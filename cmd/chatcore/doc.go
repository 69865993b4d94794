/*
Package main 提供 chatcore 服务端程序入口。

# 概述

cmd/chatcore 启动聊天路由服务：对外暴露 JSON、SSE 与 WebSocket 三种
聊天接口，内部经由 orchestrator 完成上下文裁剪、重试、熔断与模型降级。

# 子命令

  - serve：启动 API 与 Metrics 双端口服务，支持配置热重载
  - models：列出模型绑定、凭证是否就绪以及降级链
  - migrate：管理 model_bindings 表（up、status、import、enable、disable、delete）
  - cache：清空或查看 Redis 响应缓存
  - version、health

# 中间件链

自外向内：Recovery、RequestID、OTelTracing、Metrics、SecurityHeaders、
RequestLogger、CORS、Authenticate（X-API-Key 或 HS256 JWT）、RateLimiter
（按用户或 IP）。

# 关闭顺序

信号到达后依次停止热重载、关闭 API 与 Metrics 服务器、关闭 Redis 与数据库，
最后刷新 OpenTelemetry provider。
*/
package main
