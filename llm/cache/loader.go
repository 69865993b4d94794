package cache

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces the entry on a miss. Errors are never cached.
type ComputeFunc func(ctx context.Context) (*Entry, error)

// Loader 在 Cache 之上提供 get-or-compute 语义，并用 singleflight 合并同一键的并发计算
type Loader struct {
	cache  Cache
	group  singleflight.Group
	logger *zap.Logger
}

// NewLoader wraps c. A nil cache behaves as Noop, so every lookup is a miss.
func NewLoader(c Cache, logger *zap.Logger) *Loader {
	if c == nil {
		c = Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{cache: c, logger: logger}
}

// GetOrCompute returns the cached entry for key, or runs compute and stores
// its result. hit reports whether the entry came from the cache.
func (l *Loader) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (entry *Entry, hit bool, err error) {
	if e, err := l.cache.Get(ctx, key); err == nil {
		return e, true, nil
	} else if !errors.Is(err, ErrCacheMiss) {
		l.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		e, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if e != nil {
			if err := l.cache.Set(ctx, key, e); err != nil {
				l.logger.Warn("cache store failed", zap.String("key", key), zap.Error(err))
			}
		}
		return e, nil
	})
	if err != nil {
		return nil, false, err
	}
	e, _ := v.(*Entry)
	return e, false, nil
}
