package commons

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

const maxBackoffShift = 20

// ExponentialWithJitter returns a random duration in [0, base * 2^attempt).
func ExponentialWithJitter(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}

	ceiling := base * time.Duration(1<<attempt)
	return time.Duration(rand.Int63n(int64(ceiling))) // #nosec G404 -- jitter only
}

// SleepWithContext returns early with an error when ctx is done first.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
