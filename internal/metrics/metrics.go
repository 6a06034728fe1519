package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics live in a standalone package so that store, service,
// and HTTP layers can all record without import cycles.

var (
	IsolationViolations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenant_isolation_violations_total",
		Help: "Detected cross-tenant access attempts, by table and operation",
	}, []string{"table", "op"})

	TenantBypasses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tenant_filter_bypasses_total",
		Help: "Audited system/super-admin bypasses of tenant filtering",
	}, []string{"table", "op"})

	RateLimitDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_decisions_total",
		Help: "Rate limit check outcomes, by limit type",
	}, []string{"type", "outcome"})

	RateLimitRecordsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rate_limit_records_deleted_total",
		Help: "Expired rate limit records removed by cleanup sweeps",
	})

	AuthzCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authz_membership_cache_hits_total",
		Help: "Membership lookups served from cache",
	})

	AuthzCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authz_membership_cache_misses_total",
		Help: "Membership lookups that went to storage",
	})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests, by method and status class",
	}, []string{"method", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

// Register registers every metric on reg (or the default registerer when
// nil). Double registration is tolerated so tests can call it freely.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		IsolationViolations,
		TenantBypasses,
		RateLimitDecisions,
		RateLimitRecordsDeleted,
		AuthzCacheHits,
		AuthzCacheMisses,
		HTTPRequests,
		HTTPDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
