// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_dispatch"

var (
	RideRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "ride_requests_total", Help: "Ride requests accepted for dispatch",
	})
	MatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "matches_total", Help: "Rides bound to a driver",
	})
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "match_latency_seconds",
		Help:      "Time from request to first accept",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	})
	DispatchCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_candidates",
		Help:      "Candidate drivers offered per ride request",
		Buckets:   prometheus.LinearBuckets(0, 2, 10),
	})
	NoDriversFoundTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "no_drivers_found_total", Help: "Dispatch rounds ending without a match",
	})
	AcceptRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "accept_rejections_total", Help: "Rejected accept attempts by reason",
	}, []string{"reason"})
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "ride_transitions_total", Help: "Ride status transitions by target status",
	}, []string{"status"})

	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "drivers_online", Help: "Drivers with a live presence",
	})
	LocationUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "location_updates_total", Help: "Driver location reports ingested",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "ws_connections", Help: "Live WebSocket connections",
	})
	WSMessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "ws_messages_dropped_total", Help: "Outbound messages dropped",
	}, []string{"reason"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
