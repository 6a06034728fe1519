package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Local is an in-process token-bucket limiter keyed per client.
type Local struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func NewLocal(rps float64, burst int) *Local {
	return &Local{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

func (l *Local) limiter(key string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[key]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring the write lock.
	if lim, ok = l.limiters[key]; ok {
		return lim
	}
	lim = rate.NewLimiter(l.rate, l.burst)
	l.limiters[key] = lim
	return lim
}

func (l *Local) Allow(_ context.Context, key string) (Result, error) {
	lim := l.limiter(key)
	if lim.Allow() {
		return Result{Allowed: true, Remaining: int64(lim.Tokens())}, nil
	}
	return Result{Allowed: false, RetryAfter: time.Second}, nil
}

// Cleanup caps memory under churny key sets by dropping all buckets past a
// size threshold. Called periodically from the middleware's janitor.
func (l *Local) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.limiters) > 10000 {
		l.limiters = make(map[string]*rate.Limiter)
	}
}
