// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts sandbox/cloud executions by language and outcome
	// (ok, timeout, error).
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeclash",
		Subsystem: "executor",
		Name:      "executions_total",
		Help:      "Code executions by language and outcome.",
	}, []string{"language", "outcome"})

	// ExecutionDuration observes wall-clock execution time.
	ExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codeclash",
		Subsystem: "executor",
		Name:      "execution_duration_seconds",
		Help:      "Wall-clock execution duration.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"language"})

	// SandboxPoolSize tracks pooled sandboxes per language.
	SandboxPoolSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "codeclash",
		Subsystem: "executor",
		Name:      "sandbox_pool_size",
		Help:      "Pooled sandboxes per language.",
	}, []string{"language"})

	// QueueDepth tracks pending execution jobs.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codeclash",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Pending execution jobs.",
	})

	// JobRetriesTotal counts execution job retries.
	JobRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "codeclash",
		Subsystem: "queue",
		Name:      "retries_total",
		Help:      "Execution job retry attempts.",
	})

	// MatchesTotal counts match lifecycle transitions by terminal status.
	MatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeclash",
		Subsystem: "match",
		Name:      "matches_total",
		Help:      "Matches by terminal status.",
	}, []string{"status"})

	// PlayersQueued tracks matchmaking queue occupancy across partitions.
	PlayersQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codeclash",
		Subsystem: "matchmaking",
		Name:      "players_queued",
		Help:      "Players currently waiting across all partitions.",
	})

	// PairsMatchedTotal counts successful pairings.
	PairsMatchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "codeclash",
		Subsystem: "matchmaking",
		Name:      "pairs_matched_total",
		Help:      "Successful pairings.",
	})

	// ActiveConnections tracks live WebSocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "codeclash",
		Subsystem: "realtime",
		Name:      "active_connections",
		Help:      "Live WebSocket connections.",
	})

	// RateLimitedTotal counts rejected requests by endpoint.
	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeclash",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	}, []string{"endpoint"})
)
