package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Upstream forecast API call rate. Watch for: error vs success ratio.
	ForecastAPICallsTotal *prometheus.CounterVec

	// Upstream API latency per request. Watch for: p95 > 2s (upstream degradation).
	ForecastAPIDuration *prometheus.HistogramVec

	// Retry attempts for the upstream API. High retries = unstable upstream.
	ForecastAPIRetriesTotal prometheus.Counter

	// Cache hits/misses per table. Hit rate = hits/(hits+misses).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Store-level failures surfaced by the cache layer (get, set, purge, batch).
	StoreErrorsTotal *prometheus.CounterVec

	// Corrupt payloads deleted on read. Nonzero means something wrote bad rows.
	CacheCorruptDroppedTotal prometheus.Counter

	// Bulk fetch batches and their hit/fetched/dropped split.
	FetchBatchesTotal     prometheus.Counter
	FetchBatchKeysTotal   *prometheus.CounterVec
	FetchBatchDuration    prometheus.Histogram
	FetchDroppedKeysTotal prometheus.Counter

	// Background task lifecycle. Running gauge should return to zero when idle.
	TasksRunning       prometheus.Gauge
	TasksQueued        prometheus.Gauge
	TasksFinishedTotal *prometheus.CounterVec

	// Rows removed by explicit purge and by the expiry sweeper.
	PurgedRowsTotal  *prometheus.CounterVec
	ExpiredRowsTotal prometheus.Counter

	// Rate limit denials on the HTTP surface.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	ForecastAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastApiCallsTotal",
			Help: "Total number of upstream forecast API calls",
		},
		[]string{"status"},
	)
	ForecastAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forecastApiDurationSeconds",
			Help:    "Upstream forecast API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	ForecastAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastApiRetriesTotal",
			Help: "Total number of retry attempts for upstream forecast calls",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits",
		},
		[]string{"table"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses (absent or expired)",
		},
		[]string{"table"},
	)
	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeErrorsTotal",
			Help: "Store operation failures by operation",
		},
		[]string{"op"},
	)
	CacheCorruptDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheCorruptDroppedTotal",
			Help: "Cache rows deleted because the payload failed to deserialize",
		},
	)
	FetchBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fetchBatchesTotal",
			Help: "Bulk fetch batches resolved",
		},
	)
	FetchBatchKeysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchBatchKeysTotal",
			Help: "Keys per bulk fetch batch by source (hit, fetched, dropped)",
		},
		[]string{"source"},
	)
	FetchBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fetchBatchDurationSeconds",
			Help:    "End-to-end bulk fetch batch latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
	FetchDroppedKeysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fetchDroppedKeysTotal",
			Help: "Keys dropped from bulk fetch results after exhausting retries",
		},
	)
	TasksRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "backgroundTasksRunning",
			Help: "Background tasks currently executing",
		},
	)
	TasksQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "backgroundTasksQueued",
			Help: "Background tasks waiting for a worker",
		},
	)
	TasksFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backgroundTasksFinishedTotal",
			Help: "Background tasks finished by outcome (succeeded, failed)",
		},
		[]string{"outcome"},
	)
	PurgedRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purgedRowsTotal",
			Help: "Rows removed by explicit purge requests by table",
		},
		[]string{"table"},
	)
	ExpiredRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "expiredRowsTotal",
			Help: "Rows removed by the periodic expiry sweeper",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration,
		ForecastAPICallsTotal, ForecastAPIDuration, ForecastAPIRetriesTotal,
		CacheHitsTotal, CacheMissesTotal, StoreErrorsTotal, CacheCorruptDroppedTotal,
		FetchBatchesTotal, FetchBatchKeysTotal, FetchBatchDuration, FetchDroppedKeysTotal,
		TasksRunning, TasksQueued, TasksFinishedTotal,
		PurgedRowsTotal, ExpiredRowsTotal,
		RateLimitDeniedTotal,
	)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
