/*
包 observability 提供基于 OpenTelemetry 的 chat 调用指标。

# 概述

Metrics 实现 orchestrator.Observer，把请求完成、重试、降级跳转与
缓存查询事件记录为 OTel 计数器和直方图，随 internal/telemetry 配置的
MeterProvider 通过 OTLP 导出。与 internal/metrics 的 Prometheus
Collector 可以同时挂载（orchestrator.Observers）。

# 指标

  - llm.request.total / llm.request.duration：按 model、family、mode、
    status、fallback、cached 维度。
  - llm.error.total：失败请求。
  - llm.retry.total / llm.retry.delay：重试次数与退避时长。
  - llm.fallback.total：降级跳转（from/to）。
  - llm.cache.hit.total / llm.cache.miss.total：响应缓存命中情况。
*/
package observability
