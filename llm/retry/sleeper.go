package retry

import (
	"context"
	"time"
)

// Sleeper is the suspension primitive used between attempts. It is the only
// part of the retry path that differs between the two scheduling models.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep implements Sleeper.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

var (
	// Blocking parks the calling goroutine for the full delay, the
	// worker-per-request model. Cancellation is observed only after waking.
	Blocking Sleeper = SleeperFunc(blockingSleep)

	// Cooperative waits on a timer and returns as soon as ctx is done, so a
	// cancelled request releases its goroutine without waiting out the backoff.
	Cooperative Sleeper = SleeperFunc(cooperativeSleep)
)

func blockingSleep(ctx context.Context, d time.Duration) error {
	if d > 0 {
		time.Sleep(d)
	}
	return ctx.Err()
}

func cooperativeSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ByName resolves the configured scheduling model.
func ByName(name string) Sleeper {
	if name == "blocking" {
		return Blocking
	}
	return Cooperative
}
