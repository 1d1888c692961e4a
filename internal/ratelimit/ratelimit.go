// Package ratelimit implements a per-client sliding-window request cap.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // set when Allowed is false
}

// Limiter admits at most a fixed number of requests per key within any window-long interval.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
