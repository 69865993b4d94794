package retry

import "context"

// DoWithResult is a type-safe wrapper around Retryer.Do for calls that
// produce a value.
//
// Usage:
//
//	text, attempts, err := retry.DoWithResult(ctx, r, func(ctx context.Context) (string, error) {
//	    return handler.Chat(ctx, req)
//	})
func DoWithResult[T any](ctx context.Context, r Retryer, fn func(ctx context.Context) (T, error)) (T, int, error) {
	var result T
	attempts, err := r.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, attempts, err
	}
	return result, attempts, nil
}
