package util

import (
	"context"
	"time"
)

const defaultPollInterval = 50 * time.Millisecond

// PollUntil calls condition every interval until it holds or ctx is done.
func PollUntil(ctx context.Context, interval time.Duration, condition func() bool) error {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if condition() {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// WaitWithDeadline polls condition until it holds or deadline passes.
// Returns false on timeout.
func WaitWithDeadline(deadline time.Time, interval time.Duration, condition func() bool) bool {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	return PollUntil(ctx, interval, condition) == nil
}
