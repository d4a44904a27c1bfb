// Package metrics exposes prometheus collectors for the mirror service.
// Labels are kept low-cardinality: method, status, and cache outcome only.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mirrorRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_requests_total",
			Help: "Total mirrored responses by method, status and cache result",
		},
		[]string{"method", "status", "cache"},
	)
	mirrorRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mirror_request_duration_seconds",
			Help:    "End-to-end mirrored request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "cache"},
	)
	upstreamRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mirror_upstream_request_duration_seconds",
			Help:    "Upstream fetch duration in seconds, including redirects",
			Buckets: prometheus.DefBuckets,
		},
	)
	resolvesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_resolves_total",
			Help: "Total resolve operations by outcome code",
		},
		[]string{"outcome"},
	)
	blockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirror_blocked_total",
			Help: "Outbound fetches refused by policy, by reason",
		},
		[]string{"reason"},
	)
	cacheStores = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mirror_cache_stores_total",
			Help: "Total cache entries written",
		},
	)
	cacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mirror_cache_evictions_total",
			Help: "Total cache entries evicted by the size budget",
		},
	)
)

func init() {
	prometheus.MustRegister(
		mirrorRequestsTotal,
		mirrorRequestDuration,
		upstreamRequestDuration,
		resolvesTotal,
		blockedTotal,
		cacheStores,
		cacheEvictions,
	)
}

// ObserveMirrorResponse records one completed /m/ request.
func ObserveMirrorResponse(method string, status int, cache string, dur time.Duration) {
	if cache == "" {
		cache = "NONE"
	}
	mirrorRequestsTotal.WithLabelValues(method, strconv.Itoa(status), cache).Inc()
	mirrorRequestDuration.WithLabelValues(method, cache).Observe(dur.Seconds())
}

// ObserveUpstreamFetch records one upstream fetch, redirects included.
func ObserveUpstreamFetch(dur time.Duration) {
	upstreamRequestDuration.Observe(dur.Seconds())
}

// ResolveInc records a resolve outcome ("ok" or an error code).
func ResolveInc(outcome string) { resolvesTotal.WithLabelValues(outcome).Inc() }

// BlockedInc records a policy refusal ("ssrf" or "allowlist").
func BlockedInc(reason string) { blockedTotal.WithLabelValues(reason).Inc() }

func CacheStoreInc()    { cacheStores.Inc() }
func CacheEvictionInc() { cacheEvictions.Inc() }
