package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"
)

// Without the clock advancing, the breaker is open exactly when the run of
// consecutive failures has reached the threshold at some point, and once open
// no further call reaches the wrapped function.
func TestProperty_BreakerTracksConsecutiveFailures(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("open iff threshold consecutive failures observed", prop.ForAll(
		func(threshold int, outcomes []bool) bool {
			clock := newFakeClock()
			cb := NewCircuitBreaker("p", &Config{
				Threshold:       threshold,
				RecoveryTimeout: time.Hour,
				Now:             clock.Now,
			}, zap.NewNop())

			consecutive := 0
			tripped := false
			for _, ok := range outcomes {
				invoked := false
				_ = cb.Call(context.Background(), func(ctx context.Context) error {
					invoked = true
					if ok {
						return nil
					}
					return fail(ctx)
				})

				if tripped {
					if invoked {
						t.Logf("call reached fn after the breaker opened")
						return false
					}
					continue
				}
				if ok {
					consecutive = 0
				} else {
					consecutive++
				}
				if consecutive >= threshold {
					tripped = true
				}
			}

			want := StateClosed
			if tripped {
				want = StateOpen
			}
			if cb.State() != want {
				t.Logf("expected %s, got %s", want, cb.State())
				return false
			}
			return true
		},
		gen.IntRange(1, 5),
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
