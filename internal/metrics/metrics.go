// Package metrics holds the prometheus collectors shared by the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kickoff"

var (
	// CacheOps counts cache store operations by collection and result (hit, miss, expired, set, error).
	CacheOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_operations_total",
		Help:      "Cache store operations by collection and result.",
	}, []string{"collection", "result"})

	CacheCleanupDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_cleanup_deleted_total",
		Help:      "Expired cache entries removed by cleanup passes.",
	})

	// ReaderTier counts which tier answered a read.
	ReaderTier = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reader_tier_total",
		Help:      "Fast reader answers by tier (memory, store, provider, empty).",
	}, []string{"tier"})

	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_calls_total",
		Help:      "Upstream provider calls by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	SyncJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_jobs_total",
		Help:      "Sync jobs processed by type and terminal status.",
	}, []string{"type", "status"})

	SyncQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sync_queue_depth",
		Help:      "Pending jobs in the sync queue.",
	})

	SyncAborts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_quota_aborts_total",
		Help:      "Drain passes stopped early by the daily quota guard.",
	})

	ValidatorRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "validator_repairs_total",
		Help:      "Event repairs attempted by outcome.",
	}, []string{"outcome"})

	LiveMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_matches",
		Help:      "Matches seen live in the latest scan.",
	})

	StreamSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_sessions",
		Help:      "Open live stream sessions.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "API requests by route and status code.",
	}, []string{"route", "code"})
)

// Handler serves the default registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
