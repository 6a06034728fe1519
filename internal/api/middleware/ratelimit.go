package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/stratumkit/stratum/internal/ratelimit"
	"github.com/stratumkit/stratum/internal/service"
)

// clientIP resolves the caller address. X-Real-IP wins when a proxy set it,
// otherwise the connection address with the port stripped.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// EdgeRateLimit returns middleware that applies a cheap per-IP limiter before
// authentication. It protects against floods; named quotas are enforced later
// by APIRateLimit. Limiter errors fail open so a degraded Redis cannot take
// the API down.
func EdgeRateLimit(l ratelimit.Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	// Local limiters grow one bucket per IP; sweep them periodically.
	if c, ok := l.(interface{ Cleanup() }); ok {
		go func() {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				c.Cleanup()
			}
		}()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := l.Allow(r.Context(), clientIP(r))
			if err != nil {
				logger.Warn("edge rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			if !res.Allowed {
				retry := int(res.RetryAfter.Round(time.Second).Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// APIRateLimit returns middleware that charges each request against the named
// persistent quota. It must run behind Middleware so the tenant identity is
// established. An unconfigured limit type allows everything; a backend error
// fails open with a log line.
func APIRateLimit(svc *service.RateLimitService, limitType string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := svc.Check(r.Context(), limitType, clientIP(r))
			if err != nil {
				logger.Error("rate limit check failed",
					zap.String("type", limitType),
					zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			if res.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))
			}

			if !res.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
