package cache

import (
	"context"
	"time"
)

// Cached runs fn through the store: a live entry short-circuits the call,
// a miss invokes fn and stores its result with the measured compute
// duration. The caller supplies the key (usually via DeriveKey) and
// explicit dependencies; nothing is inferred from fn. Errors from fn pass
// through uncached.
func Cached[T any](ctx context.Context, s *Store, key string, opts SetOptions, fn func(context.Context) (T, error)) (T, error) {
	if cached, ok := s.Get(ctx, key); ok {
		if typed, ok := cached.(T); ok {
			return typed, nil
		}
		// A remote round-trip can come back as generic JSON types rather
		// than T. Treat it as a miss and recompute.
	}

	start := time.Now()
	value, err := fn(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	opts.ComputeDuration = time.Since(start)
	s.Set(ctx, key, value, opts)
	return value, nil
}
