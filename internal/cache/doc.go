/*
包 cache 管理服务共享的 Redis 连接。

Manager 在启动时探活，之后按间隔后台健康检查；Client() 把连接交给
llm/cache.MultiLevelCache 作为 L2 层，Ping 供 /ready 探针使用，
DeletePrefix 用于按键前缀清空响应缓存。启用 TLS 时使用 tlsutil
的统一配置。
*/
package cache
