package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/stratumkit/stratum/internal/metrics"
)

// Metrics returns middleware that records request counts and latency in
// Prometheus. Status codes are collapsed to their class ("2xx", "4xx") to
// keep label cardinality bounded.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status
		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		metrics.HTTPRequests.WithLabelValues(r.Method, statusClass(rw.statusCode)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
