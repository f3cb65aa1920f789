package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsGrantedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_granted_total",
		Help: "Total number of reservations granted",
	})

	ReservationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_failed_total",
		Help: "Total number of failed reservation attempts",
	}, []string{"reason"})

	ReservationsCommittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_committed_total",
		Help: "Total number of reservations committed into permanent stock decrements",
	})

	ReservationsReleasedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_released_total",
		Help: "Total number of reservations released back to the available pool",
	}, []string{"reason"})

	SessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_sessions_created_total",
		Help: "Total number of checkout sessions created",
	})

	SessionsExtendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_sessions_extended_total",
		Help: "Total number of checkout sessions extended",
	})

	SessionsCommittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_sessions_committed_total",
		Help: "Total number of checkout sessions committed",
	})

	ReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reservation_reserve_latency_seconds",
		Help:    "Latency of stock reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sweep_duration_seconds",
		Help:    "Duration of expiry sweep passes",
		Buckets: prometheus.DefBuckets,
	})

	SweepSessionsReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sweep_sessions_reclaimed_total",
		Help: "Total number of expired sessions reclaimed by the sweeper",
	})

	InvariantViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_invariant_violations_total",
		Help: "Total number of detected inventory invariant violations",
	}, []string{"kind"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
