package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsafe_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// ScopeResolutions counts scoping engine evaluations by outcome (all|subtree|single|empty).
	ScopeResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsafe_scope_resolutions_total",
			Help: "Total number of authorization scope resolutions",
		},
		[]string{"outcome"},
	)

	// InvitationsIssued counts invitation tokens generated per role.
	InvitationsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsafe_invitations_issued_total",
			Help: "Total number of invitations issued",
		},
		[]string{"role"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldsafe_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
