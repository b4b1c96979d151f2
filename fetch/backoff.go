package fetch

import (
	"context"
	"time"
)

// backoffDelay returns the wait after the given number of failed attempts:
// the base delay doubled per failure, bounded by limit. Delays are
// non-decreasing, so total wait per item is bounded by limit times the
// attempt count.
func backoffDelay(base, limit time.Duration, failures int) time.Duration {
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= limit || d <= 0 {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

// sleep waits for the given duration or until ctx finishes, whichever comes
// first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
