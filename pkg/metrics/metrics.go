package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revrec_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// LicenseValidations counts license check-ins by outcome
	// (activated|renewed|migrated|not_found|not_active|in_use).
	LicenseValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revrec_license_validations_total",
			Help: "Total number of license validation check-ins",
		},
		[]string{"outcome"},
	)

	// ActiveLicenseBindings tracks licenses currently bound to an IP.
	ActiveLicenseBindings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "revrec_active_license_bindings",
			Help: "Number of licenses currently bound to an IP address",
		},
	)

	// ActiveSessions tracks web sessions that are neither expired nor revoked.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "revrec_active_sessions",
			Help: "Number of active web sessions",
		},
	)

	// RevenueRecognized counts journal postings produced by schedule recognition.
	RevenueRecognized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "revrec_revenue_recognitions_total",
			Help: "Total number of recognized revenue schedule periods",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "revrec_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
