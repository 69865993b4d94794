/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、Chat 编排、熔断器、缓存与数据库五个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制。NewCollector 注册到默认 registry（/metrics 暴露），
NewCollectorWith 可指定 registry，便于测试隔离。

# 核心类型

  - Collector：指标收集器，实现 orchestrator.Observer，
    其 BreakerStateChanged 可直接作为 circuitbreaker.Config.OnStateChange。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    状态码归类为 2xx/3xx/4xx/5xx。
  - Chat 指标：按实际应答模型、模式（chat/stream）、状态与是否降级计数，
    请求耗时、重试次数、降级跳转（from/to）。
  - 熔断器指标：各 provider 当前状态 Gauge 与状态迁移计数。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - 数据库指标：打开/空闲连接数 Gauge。
*/
package metrics
