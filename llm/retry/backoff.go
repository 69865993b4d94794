package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/types"

	"go.uber.org/zap"
)

// RetryPolicy 定义重试策略配置
type RetryPolicy struct {
	MaxAttempts int                                               // 总尝试次数（含首次），小于 1 视为 1
	BaseDelay   time.Duration                                     // 首次重试前的延迟
	MaxDelay    time.Duration                                     // 延迟上限
	Multiplier  float64                                           // 指数退避倍数
	Retryable   func(err error) bool                              // 可重试判断，nil 时使用 types.IsTransient
	OnRetry     func(attempt int, err error, delay time.Duration) // 重试回调
}

// DefaultRetryPolicy 返回默认的重试策略
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
	}
}

// Delay returns min(BaseDelay * Multiplier^attempt, MaxDelay) with no jitter.
// attempt is zero-based: Delay(0) is the sleep before the second call.
// Every sleeper goes through this function.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay >= float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Delays returns the full sleep schedule for a call that fails every attempt.
func (p *RetryPolicy) Delays() []time.Duration {
	n := p.attempts() - 1
	out := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, p.Delay(i))
	}
	return out
}

func (p *RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p *RetryPolicy) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return types.IsTransient(err)
}

// Retryer 重试器接口
type Retryer interface {
	// Do 执行 fn，瞬时失败时按策略退避重试。attempts 为实际调用次数。
	Do(ctx context.Context, fn func(ctx context.Context) error) (attempts int, err error)
}

// backoffRetryer 基于指数退避的重试器实现
type backoffRetryer struct {
	policy  *RetryPolicy
	sleeper Sleeper
	logger  *zap.Logger
}

// NewBackoffRetryer 创建指数退避重试器。sleeper 决定退避期间的挂起方式。
func NewBackoffRetryer(policy *RetryPolicy, sleeper Sleeper, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if sleeper == nil {
		sleeper = Cooperative
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &backoffRetryer{
		policy:  policy,
		sleeper: sleeper,
		logger:  logger,
	}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	maxAttempts := r.policy.attempts()
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.policy.Delay(attempt - 1)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", maxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			if err := r.sleeper.Sleep(ctx, delay); err != nil {
				return attempt, fmt.Errorf("retry canceled: %w", err)
			}
		}
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt, fmt.Errorf("retry canceled: %w", err)
			}
			return attempt, err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("retry succeeded", zap.Int("attempts", attempt+1))
			}
			return attempt + 1, nil
		}

		if !r.policy.isRetryable(lastErr) {
			r.logger.Debug("error not retryable", zap.Error(lastErr))
			return attempt + 1, lastErr
		}
	}

	r.logger.Warn("retry attempts exhausted",
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
	return maxAttempts, lastErr
}
