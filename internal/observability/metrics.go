package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dispatch"

var (
	MatchesTotal         = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "matches_total", Help: "Total number of drivers committed to rides"})
	MatchNoCapacityTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "match_no_capacity_total", Help: "Ride requests refused because no driver was available"})
	MatchLatency         = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "match_latency_seconds", Help: "Match latency seconds"})
	DriversAvailable     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_available", Help: "Number of drivers currently available"})

	TripsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "trips_created_total", Help: "Trips created by kind"},
		[]string{"kind"},
	)
	TripsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "trips_rejected_total", Help: "Trip requests rejected by kind and reason"},
		[]string{"kind", "reason"},
	)
	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "phase_transitions_total", Help: "Lifecycle transitions by kind and phase"},
		[]string{"kind", "phase"},
	)
	ActiveTrips = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "active_trips", Help: "Trips whose lifecycle timer is still running"})
	SinkErrors  = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "sink_errors_total", Help: "Failures delivering trip events to external sinks"},
		[]string{"sink"},
	)

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
