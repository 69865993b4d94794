package orchestrator

import (
	"context"
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/llm"
)

// Mode labels passed to Observer.ChatCompleted.
const (
	ModeChat   = "chat"
	ModeStream = "stream"
)

// Observer receives resilience events. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	ChatCompleted(ctx context.Context, mode string, resp *llm.ChatResponse)
	RetryScheduled(model string, attempt int, delay time.Duration, err error)
	FallbackHop(from, to string, err error)
	CacheLookup(model string, hit bool)
}

// NopObserver discards every event.
type NopObserver struct{}

func (NopObserver) ChatCompleted(context.Context, string, *llm.ChatResponse) {}
func (NopObserver) RetryScheduled(string, int, time.Duration, error)        {}
func (NopObserver) FallbackHop(string, string, error)                       {}
func (NopObserver) CacheLookup(string, bool)                                {}

// Observers fans every event out to each member in order.
type Observers []Observer

func (os Observers) ChatCompleted(ctx context.Context, mode string, resp *llm.ChatResponse) {
	for _, o := range os {
		o.ChatCompleted(ctx, mode, resp)
	}
}

func (os Observers) RetryScheduled(model string, attempt int, delay time.Duration, err error) {
	for _, o := range os {
		o.RetryScheduled(model, attempt, delay, err)
	}
}

func (os Observers) FallbackHop(from, to string, err error) {
	for _, o := range os {
		o.FallbackHop(from, to, err)
	}
}

func (os Observers) CacheLookup(model string, hit bool) {
	for _, o := range os {
		o.CacheLookup(model, hit)
	}
}
