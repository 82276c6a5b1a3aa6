package matcher

import (
	"context"
	"time"
)

// Retry calls fn and, while it fails with a transient error, calls it again
// up to retries more times, waiting backoff between attempts.
func Retry[T any](ctx context.Context, retries int, backoff time.Duration, fn func() (T, error)) (T, error) {
	v, err := fn()
	for attempt := 0; attempt < retries && IsTransient(err); attempt++ {
		select {
		case <-ctx.Done():
			return v, err
		case <-time.After(backoff):
		}
		v, err = fn()
	}
	return v, err
}
