package ratelimit

import (
	"context"
	"time"
)

// Result is an edge limiter verdict. Remaining is a best-effort estimate;
// the persistent engine stays the authoritative counter.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter is the cheap request limiter sitting in front of the persistent
// engine. Implementations may be per-instance or shared and are allowed to
// be approximate.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}
