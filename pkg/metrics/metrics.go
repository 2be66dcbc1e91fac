package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records login attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nido_auth_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"result"},
	)

	// Registrations counts completed registrations by flow (direct|pin|invitation).
	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nido_registrations_total",
			Help: "Total number of completed registrations",
		},
		[]string{"flow"},
	)

	// TokenConsumptions counts one-time token redemptions by purpose and outcome.
	TokenConsumptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nido_token_consumptions_total",
			Help: "One-time token redemption attempts",
		},
		[]string{"purpose", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nido_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
