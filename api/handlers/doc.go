/*
Package handlers 提供 chatcore HTTP API 的请求处理器实现。

# 核心类型

  - ChatHandler      聊天接口：一次性 JSON、SSE 流式与 WebSocket
  - ModelsHandler    模型绑定列表与熔断器复位
  - ConfigHandler    脱敏配置查看与手动重载
  - HealthHandler    /health、/healthz、/ready、/version
  - Response         统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter   包装 http.ResponseWriter 以捕获状态码，透传 Flush 与 Hijack

# 错误映射

types.ErrorCode 到 HTTP 状态码的映射集中在 mapErrorCodeToHTTPStatus。
聊天失败时返回 502，响应 data 中仍携带归一化的 ChatResponse。

# 健康检查

HealthCheck 是可插拔接口；PingCheck 适配数据库连接池与 Redis 的 Ping，
BreakerCheck 在全部熔断器打开时让 /ready 返回 503。
*/
package handlers
