package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FeedTicks counts ticks by outcome: processed, idle, failed, skipped.
	FeedTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mci_feed_ticks_total",
			Help: "Total number of change-feed ticks by outcome",
		},
		[]string{"outcome"},
	)

	FeedTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mci_feed_tick_duration_seconds",
			Help:    "Duration of change-feed ticks in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FeedEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mci_feed_events_total",
			Help: "Total number of processed update-log entries by kind",
		},
		[]string{"kind"},
	)

	DuplicatesInserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mci_duplicates_inserted_total",
			Help: "Total number of duplicate rows written",
		},
	)

	DuplicatesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mci_duplicates_deleted_total",
			Help: "Total number of duplicate rows removed",
		},
	)

	RuleMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mci_rule_matches_total",
			Help: "Total number of candidate matches by rule",
		},
		[]string{"rule"},
	)

	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mci_resolutions_total",
			Help: "Total number of duplicate resolutions by action and result",
		},
		[]string{"action", "result"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mci_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mci_http_requests_in_flight",
			Help: "Number of HTTP requests being served",
		},
	)

	PanicsRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mci_http_panics_recovered_total",
			Help: "Total number of handler panics turned into 500 responses",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mci_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
