/*
Package types 提供 chatcore 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、api、cmd 等上层模块
提供统一的类型契约，避免循环依赖。

# 核心类型

  - Message / Role：发送给 Provider 的有序 role/content 消息
  - Error / ErrorCode：结构化错误，含 HTTP 状态码、Retryable、Provider 标记
  - Kind / Classify：瞬时 / 终止 / 熔断 / 配置 四类错误分类

# 主要能力

  - Context 传播：WithRequestID / WithUserID / WithLLMModel
  - 传输层错误归一化：FromTransport 将超时、连接拒绝等映射为瞬时错误
*/
package types
