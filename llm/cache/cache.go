package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when no live entry exists.
var ErrCacheMiss = errors.New("cache miss")

// Entry 缓存的一次成功回复
type Entry struct {
	Content   string    `json:"content"`
	Model     string    `json:"model"`
	Family    string    `json:"family,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	HitCount  int       `json:"hit_count"`
}

// Cache 响应缓存接口
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry) error
	Delete(ctx context.Context, key string) error
}

// Noop 不缓存任何内容，每次都是未命中
type Noop struct{}

func (Noop) Get(context.Context, string) (*Entry, error) { return nil, ErrCacheMiss }
func (Noop) Set(context.Context, string, *Entry) error    { return nil }
func (Noop) Delete(context.Context, string) error         { return nil }
