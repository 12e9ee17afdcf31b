// Package metrics defines the process's Prometheus instrumentation: a
// latency histogram for the two Query Service operations, and a counter of
// the builder's fast-path cache hits versus misses (§4.9: "purely
// observational and never affecting the returned ranking"). Grounded on
// vjache-cie's cmd/cie/index.go, which exposes client_golang's promhttp
// handler on a configurable metrics address; this module additionally
// registers the instruments themselves via promauto, since that codebase's
// retrieved files wire the HTTP handler but stop short of defining metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// QueryLatency observes end-to-end latency, in seconds, of search and
// class_stats, labeled by operation.
var QueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "owlsearch",
	Name:      "query_latency_seconds",
	Help:      "End-to-end latency of search and class_stats requests.",
	Buckets:   prometheus.DefBuckets,
}, []string{"operation"})

// BuildCache counts the builder's fast-path outcome per call, labeled
// "hit" (in-memory state was already current) or "miss" (a rebuild, partial
// or full, was required).
var BuildCache = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "owlsearch",
	Name:      "build_cache_total",
	Help:      "Count of build_index calls by fast-path cache outcome.",
}, []string{"outcome"})

// WorkerPoolSize reports the configured extraction worker pool size
// (OWL_WORKERS), so an operator can confirm an override took effect
// (SPEC_FULL.md §8, ambient scenario 8).
var WorkerPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "owlsearch",
	Name:      "worker_pool_size",
	Help:      "Configured size of the bounded extraction worker pool.",
})

// RecordBuildOutcome increments BuildCache for one build_index call.
func RecordBuildOutcome(fastPath bool) {
	if fastPath {
		BuildCache.WithLabelValues("hit").Inc()
		return
	}
	BuildCache.WithLabelValues("miss").Inc()
}
