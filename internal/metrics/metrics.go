// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parking_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	OccupancyMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_occupancy_mutations_total",
		Help: "Spot claim/release attempts by operation and result",
	}, []string{"op", "result"})

	Assignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_assignments_total",
		Help: "Spot assignment requests by outcome",
	}, []string{"outcome"})

	AssignmentCandidatesTried = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parking_assignment_candidates_tried",
		Help:    "Candidates claimed before an assignment resolved",
		Buckets: []float64{1, 2, 3, 5, 10, 25, 50},
	})

	Captures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_payment_captures_total",
		Help: "Payment capture calls by outcome",
	}, []string{"outcome"})

	ProcessorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_payment_processor_calls_total",
		Help: "Calls to the payment processor by operation and error class",
	}, []string{"op", "class"})

	FeedSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parking_feed_subscribers",
		Help: "Open change-feed subscriptions on this node",
	})

	FeedDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parking_feed_dropped_subscriptions_total",
		Help: "Subscriptions dropped for falling behind",
	})

	SessionsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_sessions_finalized_total",
		Help: "Sessions reaching a terminal state",
	}, []string{"status"})

	SpotsReconciled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parking_spots_reconciled_total",
		Help: "Orphaned spots released by the sweeper",
	})

	PaymentsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parking_payments_resolved_total",
		Help: "Stale pending payments settled by the payment sweeper",
	}, []string{"outcome"})
)
