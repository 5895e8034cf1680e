package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "broadcasts_total", Help: "Total ambulance request broadcasts"})
	NotifiedDrivers = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "notified_drivers_total", Help: "Total new_ambulance_request deliveries attempted"})
	NotifyFailures  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "notify_failures_total", Help: "Total realtime deliveries that failed"})

	ClaimsTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "claims_total", Help: "Total successful request claims"})
	ClaimConflicts    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "claim_conflicts_total", Help: "Accepts rejected because the request was no longer open"})
	RequestsExpired   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "requests_expired_total", Help: "Requests expired with no accepting driver"})
	RequestsCancelled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "requests_cancelled_total", Help: "Requests cancelled by the patient"})

	ClaimLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dispatch",
		Name:      "claim_latency_seconds",
		Help:      "Time from broadcast to successful claim",
		Buckets:   prometheus.DefBuckets,
	})

	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "dispatch", Name: "drivers_online", Help: "Number of drivers currently online"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
