/*
Package llm 定义多 Provider 聊天核心的数据模型与适配接口。

# 概述

llm 是弹性路由核心的公共契约层：Handler 抽象了每一种 wire 协议族的
Provider 适配器，ModelRegistry 持有由配置构建出的可用 Handler，
ChatContext / ChatResponse 描述一次聊天请求与归一化结果。

重试、熔断、降级链与上下文窗口裁剪分别位于子包 retry、circuitbreaker、
fallback、context 中，由 orchestrator 组合为对外的 Chat / ChatStream 门面。

# 核心类型

  - Handler：Provider 适配接口（Chat / ChatStream）
  - ModelConfig：单个 Provider 绑定（凭证、端点、模型、预算、超时）
  - ModelRegistry：构造注入的 Handler 注册表，带显式生命周期
  - ChatContext：单次请求（消息、历史、deep_thinking、语言等）
  - ChatResponse：归一化结果，构造函数保证 success/content/error 不变量
  - StreamChunk：流式增量片段

# 使用方式

	reg := llm.NewModelRegistry(logger)
	reg.Register(cfg, handler)
	h, cfg, ok := reg.Get("deepseek")
*/
package llm
