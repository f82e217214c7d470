package util

import (
	"context"
	"time"
)

// SleepCtx sleeps for delay or until ctx is done. It reports whether the full delay elapsed.
func SleepCtx(ctx context.Context, delay time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}
