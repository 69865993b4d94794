package retry

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// recordingSleeper records every requested delay and then delegates.
type recordingSleeper struct {
	mu     sync.Mutex
	inner  Sleeper
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	if s.inner == nil {
		return ctx.Err()
	}
	return s.inner.Sleep(ctx, d)
}

func transient() error {
	return types.NewTransientError(types.ErrUpstreamError, "502 bad gateway")
}

func testPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    25 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := testPolicy()

	assert.Equal(t, 10*time.Millisecond, p.Delay(0))
	assert.Equal(t, 20*time.Millisecond, p.Delay(1))
	assert.Equal(t, 25*time.Millisecond, p.Delay(2), "capped at MaxDelay")
	assert.Equal(t, 25*time.Millisecond, p.Delay(500), "overflow is capped too")
	assert.Equal(t, 10*time.Millisecond, p.Delay(-1))
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}, p.Delays())
}

func TestBackoffRetryer_Success(t *testing.T) {
	rec := &recordingSleeper{}
	retryer := NewBackoffRetryer(testPolicy(), rec, zap.NewNop())

	callCount := 0
	attempts, err := retryer.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		return nil // 第一次就成功
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, callCount, "应该只调用一次")
	assert.Empty(t, rec.delays)
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	rec := &recordingSleeper{}
	retryer := NewBackoffRetryer(testPolicy(), rec, zap.NewNop())

	callCount := 0
	attempts, err := retryer.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		if callCount < 3 {
			return transient() // 前两次失败
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, rec.delays)
}

func TestBackoffRetryer_Exhausted(t *testing.T) {
	rec := &recordingSleeper{}
	retryer := NewBackoffRetryer(testPolicy(), rec, zap.NewNop())

	lastErr := types.NewTransientError(types.ErrRateLimited, "429 on final attempt")
	callCount := 0
	attempts, err := retryer.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		if callCount == 4 {
			return lastErr
		}
		return transient()
	})

	require.Error(t, err)
	assert.Same(t, lastErr, err, "the last attempt's error propagates unchanged")
	assert.Equal(t, 4, attempts)
	assert.Equal(t, 4, callCount)
	assert.Len(t, rec.delays, 3, "no sleep after the final attempt")
}

func TestBackoffRetryer_NonRetryableError(t *testing.T) {
	rec := &recordingSleeper{}
	retryer := NewBackoffRetryer(testPolicy(), rec, zap.NewNop())

	terminal := types.NewError(types.ErrUnauthorized, "invalid api key")
	callCount := 0
	attempts, err := retryer.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		return terminal
	})

	assert.ErrorIs(t, err, terminal)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, callCount)
	assert.Empty(t, rec.delays, "terminal errors never sleep")
}

func TestBackoffRetryer_CircuitOpenIsNotRetried(t *testing.T) {
	retryer := NewBackoffRetryer(testPolicy(), &recordingSleeper{}, zap.NewNop())

	callCount := 0
	_, err := retryer.Do(context.Background(), func(ctx context.Context) error {
		callCount++
		return types.NewError(types.ErrCircuitOpen, "open")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, callCount)
}

func TestBackoffRetryer_CustomRetryable(t *testing.T) {
	plain := errors.New("flaky")
	policy := testPolicy()
	policy.Retryable = func(err error) bool { return errors.Is(err, plain) }

	retryer := NewBackoffRetryer(policy, &recordingSleeper{}, zap.NewNop())
	attempts, err := retryer.Do(context.Background(), func(ctx context.Context) error {
		return plain
	})

	assert.ErrorIs(t, err, plain)
	assert.Equal(t, 4, attempts)
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	policy := testPolicy()
	var seen []int
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		seen = append(seen, attempt)
		assert.Equal(t, policy.Delay(attempt-1), delay)
	}

	retryer := NewBackoffRetryer(policy, &recordingSleeper{}, zap.NewNop())
	_, _ = retryer.Do(context.Background(), func(ctx context.Context) error { return transient() })

	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestBackoffRetryer_ContextCancelledDuringBackoff(t *testing.T) {
	policy := &RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Second, Multiplier: 1}
	retryer := NewBackoffRetryer(policy, Cooperative, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	callCount := 0
	_, err := retryer.Do(ctx, func(ctx context.Context) error {
		callCount++
		return transient()
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, callCount)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "cooperative sleep must wake on cancellation")
}

func TestBackoffRetryer_ContextAlreadyCancelled(t *testing.T) {
	retryer := NewBackoffRetryer(testPolicy(), &recordingSleeper{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	callCount := 0
	attempts, err := retryer.Do(ctx, func(ctx context.Context) error {
		callCount++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, attempts)
	assert.Equal(t, 0, callCount)
}

func TestDoWithResult(t *testing.T) {
	retryer := NewBackoffRetryer(testPolicy(), &recordingSleeper{}, zap.NewNop())

	calls := 0
	val, attempts, err := DoWithResult(context.Background(), retryer, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", transient()
		}
		return "hello", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", val)
	assert.Equal(t, 2, attempts)

	val, _, err = DoWithResult(context.Background(), retryer, func(ctx context.Context) (string, error) {
		return "ignored", types.NewError(types.ErrInvalidRequest, "bad")
	})
	assert.Error(t, err)
	assert.Empty(t, val)
}

func TestSleepers(t *testing.T) {
	for name, s := range map[string]Sleeper{"blocking": Blocking, "cooperative": Cooperative} {
		t.Run(name, func(t *testing.T) {
			start := time.Now()
			require.NoError(t, s.Sleep(context.Background(), 5*time.Millisecond))
			assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
			require.NoError(t, s.Sleep(context.Background(), 0))

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			assert.ErrorIs(t, s.Sleep(ctx, time.Millisecond), context.Canceled)
		})
	}

	assert.NotNil(t, ByName("blocking"))
	assert.NotNil(t, ByName("cooperative"))
}

// For any policy and a handler failing N-1 times then succeeding, both
// scheduling models make exactly N calls and request the same sleeps.
func TestProperty_DelaySequenceIdenticalAcrossSleepers(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(rt, "max_attempts")
		base := time.Duration(rapid.IntRange(1, 40).Draw(rt, "base_us")) * time.Microsecond
		maxDelay := time.Duration(rapid.IntRange(1, 200).Draw(rt, "max_us")) * time.Microsecond
		mult := rapid.Float64Range(1.0, 4.0).Draw(rt, "multiplier")

		policy := &RetryPolicy{MaxAttempts: n, BaseDelay: base, MaxDelay: maxDelay, Multiplier: mult}

		expected := make([]time.Duration, 0, n-1)
		for i := 0; i < n-1; i++ {
			expected = append(expected, min(time.Duration(float64(base)*math.Pow(mult, float64(i))), maxDelay))
		}

		var sequences [][]time.Duration
		for _, inner := range []Sleeper{Blocking, Cooperative} {
			rec := &recordingSleeper{inner: inner}
			calls := 0
			attempts, err := NewBackoffRetryer(policy, rec, zap.NewNop()).Do(context.Background(), func(ctx context.Context) error {
				calls++
				if calls < n {
					return transient()
				}
				return nil
			})
			if err != nil {
				rt.Fatalf("unexpected error: %v", err)
			}
			if attempts != n || calls != n {
				rt.Fatalf("expected %d attempts, got attempts=%d calls=%d", n, attempts, calls)
			}
			sequences = append(sequences, rec.delays)
		}

		for _, seq := range sequences {
			if len(seq) != len(expected) {
				rt.Fatalf("expected %d sleeps, got %d", len(expected), len(seq))
			}
			for i := range seq {
				if seq[i] != expected[i] {
					rt.Fatalf("sleep %d: expected %v, got %v", i, expected[i], seq[i])
				}
			}
		}
	})
}
