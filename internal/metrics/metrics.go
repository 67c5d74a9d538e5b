package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockframe_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clockframe_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	HTTPRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clockframe_http_request_size_bytes",
			Help:    "Size of HTTP requests in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clockframe_http_response_size_bytes",
			Help:    "Size of HTTP responses in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clockframe_active_connections",
			Help: "Number of active HTTP connections",
		},
	)

	// Realtime channel metrics
	RealtimeSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clockframe_realtime_subscriptions",
			Help: "Number of active realtime subscriptions",
		},
		[]string{"transport"}, // "ws" or "poll"
	)

	RealtimeEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockframe_realtime_events_published_total",
			Help: "Total number of events published to subscriptions",
		},
		[]string{"type"},
	)

	RealtimeSubscriptionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockframe_realtime_subscriptions_closed_total",
			Help: "Total number of subscriptions closed by the reaper",
		},
		[]string{"reason"}, // "slow_consumer" or "idle_poll"
	)

	// Authentication Metrics
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockframe_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"type", "status"}, // type: "login", "register", "refresh"; status: "success", "failure"
	)

	RefreshReplaysDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clockframe_refresh_replays_detected_total",
			Help: "Total number of refresh-token replay attempts detected",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clockframe_active_sessions",
			Help: "Number of active user sessions",
		},
	)

	// Timer/entry domain metrics
	TimerConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clockframe_timer_conflicts_total",
			Help: "Total number of TIMER_CONFLICT responses",
		},
	)

	ForceStopAllRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clockframe_force_stop_all_total",
			Help: "Total number of force_stop_all recovery operations",
		},
	)

	// Background Jobs
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockframe_jobs_processed_total",
			Help: "Total number of background jobs processed",
		},
		[]string{"type", "status"},
	)

	JobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clockframe_jobs_queued",
			Help: "Number of jobs currently in queue",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clockframe_job_duration_seconds",
			Help:    "Duration of background jobs in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"type"},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clockframe_db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	DBConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clockframe_db_connections",
			Help: "Number of database connections",
		},
		[]string{"state"}, // "active", "idle", "total"
	)

	// User Metrics
	RegisteredUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clockframe_registered_users",
			Help: "Total number of registered users",
		},
	)

	ActiveUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clockframe_active_users_24h",
			Help: "Number of users active in the last 24 hours",
		},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockframe_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "code"},
	)

	// Cache Metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockframe_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"}, // "redis", "session_memory"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clockframe_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)
)

// NormalizePath normalizes a path for metrics labels to avoid high cardinality
// from path-embedded UUIDs.
func NormalizePath(path string) string {
	patterns := map[string]string{
		"/api/entries/":  "/api/entries/:id",
		"/api/projects/": "/api/projects/:id",
	}

	for prefix, replacement := range patterns {
		if len(path) > len(prefix) && path[:len(prefix)] == prefix {
			return replacement
		}
	}

	return path
}
