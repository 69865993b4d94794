package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config 缓存配置
type Config struct {
	LocalMaxSize    int           `yaml:"local_max_size" env:"LOCAL_MAX_SIZE"` // 本地缓存最大条目数
	LocalTTL        time.Duration `yaml:"local_ttl" env:"LOCAL_TTL"`           // 本地缓存 TTL
	RedisTTL        time.Duration `yaml:"redis_ttl" env:"REDIS_TTL"`           // Redis 缓存 TTL
	EnableLocal     bool          `yaml:"enable_local" env:"ENABLE_LOCAL"`     // 是否启用本地缓存
	EnableRedis     bool          `yaml:"enable_redis" env:"ENABLE_REDIS"`     // 是否启用 Redis 缓存
	KeyStrategyType string        `yaml:"key_strategy" env:"KEY_STRATEGY"`     // 缓存键策略类型：hash | hierarchical
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		LocalMaxSize:    1000,
		LocalTTL:        5 * time.Minute,
		RedisTTL:        1 * time.Hour,
		EnableLocal:     true,
		EnableRedis:     true,
		KeyStrategyType: "hash",
	}
}

// RedisKeyPrefix 区分本服务在共享 Redis 中的键空间，运维清理按此前缀扫描
const RedisKeyPrefix = "chatcore:"

// MultiLevelCache 多级缓存实现：L1 本地 LRU，L2 Redis
type MultiLevelCache struct {
	local    *LRUCache
	redis    redis.UniversalClient
	config   *Config
	strategy KeyStrategy
	logger   *zap.Logger
}

// NewMultiLevelCache 创建多级缓存。rdb 为 nil 时只使用本地层。
func NewMultiLevelCache(rdb redis.UniversalClient, config *Config, logger *zap.Logger) *MultiLevelCache {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "response_cache"))

	var local *LRUCache
	if config.EnableLocal {
		local = NewLRUCache(config.LocalMaxSize, config.LocalTTL)
	}
	if !config.EnableRedis {
		rdb = nil
	}

	strategy := NewKeyStrategy(config.KeyStrategyType)
	logger.Info("response cache initialized",
		zap.String("key_strategy", strategy.Name()),
		zap.Bool("local", local != nil),
		zap.Bool("redis", rdb != nil))

	return &MultiLevelCache{
		local:    local,
		redis:    rdb,
		config:   config,
		strategy: strategy,
		logger:   logger,
	}
}

// Strategy returns the key strategy callers should use for this cache.
func (c *MultiLevelCache) Strategy() KeyStrategy { return c.strategy }

// Get 获取缓存
func (c *MultiLevelCache) Get(ctx context.Context, key string) (*Entry, error) {
	// 1. 查本地缓存
	if c.local != nil {
		if entry, ok := c.local.Get(key); ok {
			c.logger.Debug("local cache hit", zap.String("key", key))
			return entry, nil
		}
	}

	// 2. 查 Redis 缓存
	if c.redis != nil {
		data, err := c.redis.Get(ctx, c.redisKey(key)).Bytes()
		if err == nil {
			var entry Entry
			if err := json.Unmarshal(data, &entry); err == nil {
				// 回填本地缓存
				if c.local != nil {
					c.local.Set(key, &entry)
				}
				c.logger.Debug("redis cache hit", zap.String("key", key))
				return &entry, nil
			}
			c.logger.Warn("dropping undecodable cache entry", zap.String("key", key))
			_ = c.redis.Del(ctx, c.redisKey(key)).Err()
		} else if !errors.Is(err, redis.Nil) {
			// Redis 故障按未命中处理
			c.logger.Warn("redis get error", zap.Error(err))
		}
	}

	return nil, ErrCacheMiss
}

// Set 设置缓存
func (c *MultiLevelCache) Set(ctx context.Context, key string, entry *Entry) error {
	now := time.Now()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(c.config.RedisTTL)

	if c.local != nil {
		c.local.Set(key, entry)
	}

	if c.redis != nil {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := c.redis.Set(ctx, c.redisKey(key), data, c.config.RedisTTL).Err(); err != nil {
			c.logger.Warn("redis set error", zap.Error(err))
			return err
		}
	}

	c.logger.Debug("cache set", zap.String("key", key))
	return nil
}

// Delete 删除缓存
func (c *MultiLevelCache) Delete(ctx context.Context, key string) error {
	if c.local != nil {
		c.local.Delete(key)
	}
	if c.redis != nil {
		if err := c.redis.Del(ctx, c.redisKey(key)).Err(); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateModel 删除某个模型的全部缓存，仅 hierarchical 策略支持
func (c *MultiLevelCache) InvalidateModel(ctx context.Context, model string) (int, error) {
	hs, ok := c.strategy.(*HierarchicalKeyStrategy)
	if !ok {
		return 0, errors.New("per-model invalidation requires the hierarchical key strategy")
	}
	pattern := hs.ModelPattern(model)
	prefix := strings.TrimSuffix(pattern, "*")

	n := 0
	if c.local != nil {
		n += c.local.DeleteFunc(func(key string) bool { return strings.HasPrefix(key, prefix) })
	}
	if c.redis == nil {
		return n, nil
	}

	var cursor uint64
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, c.redisKey(pattern), 100).Result()
		if err != nil {
			return n, err
		}
		if len(keys) > 0 {
			deleted, err := c.redis.Del(ctx, keys...).Result()
			if err != nil {
				return n, err
			}
			n += int(deleted)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.logger.Info("cache invalidated for model", zap.String("model", model), zap.Int("keys", n))
	return n, nil
}

// Ping checks the Redis layer; a local-only cache is always healthy.
func (c *MultiLevelCache) Ping(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

func (c *MultiLevelCache) redisKey(key string) string {
	return RedisKeyPrefix + key
}
