/*
包 cache 提供聊天回复的多级缓存实现，通过本地 LRU 与 Redis 协同减少重复调用，
降低延迟与成本。缓存是可选协作者：未配置时使用 Noop，每次都是未命中。

# 核心接口

  - Cache：Get/Set/Delete，未命中返回 ErrCacheMiss。
  - KeyStrategy：缓存键生成策略，支持 Hash 与 Hierarchical 两种实现。
  - MultiLevelCache：本地 LRU 作为 L1、Redis 作为 L2，自动回填。
  - Loader：get-or-compute，singleflight 合并同键并发计算，错误不缓存。

# 缓存键

键由 (model, message, context tag, deep_thinking, language, system prompt 前缀)
确定性 Hash 得到。Hierarchical 策略以模型名为前缀，支持 InvalidateModel。

# 使用方式

	mlc := cache.NewMultiLevelCache(redisClient, cache.DefaultConfig(), logger)
	loader := cache.NewLoader(mlc, logger)
	entry, hit, err := loader.GetOrCompute(ctx, key, compute)
*/
package cache
