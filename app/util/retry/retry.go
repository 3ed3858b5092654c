package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Do runs fn up to attempts times, sleeping delay between tries.
// It returns the first successful result or the last error.
func Do[T any](ctx context.Context, name string, attempts int, delay time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		slog.Warn("API call failed",
			"name", name,
			"attempt", attempt,
			"attempts", attempts,
			"error", err)

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return zero, fmt.Errorf("%s: all %d attempts failed: %w", name, attempts, lastErr)
}
