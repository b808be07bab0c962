package util

import (
	"context"
	"time"
)

// Retry runs fn until it returns nil, making at most maxAttempts calls with
// an exponentially growing pause between them. Cancelling ctx wins over any
// remaining attempts; otherwise the last attempt's error comes back.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	delay := baseDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}
