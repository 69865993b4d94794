package circuitbreaker

import "context"

// CallWithResult is a type-safe wrapper around CircuitBreaker.Call for calls
// that produce a value.
//
// Usage:
//
//	text, err := circuitbreaker.CallWithResult(ctx, cb, func(ctx context.Context) (string, error) {
//	    return handler.Chat(ctx, req)
//	})
func CallWithResult[T any](ctx context.Context, cb CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := cb.Call(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
