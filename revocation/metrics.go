package revocation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	isRevokedDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "identity_is_credential_revoked_duration_ms",
		Help:    "Latency of credential revocation checks in milliseconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
	})
	revokedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "identity_credentials_revoked_total",
		Help: "Number of credentials revoked",
	})
	registeredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "identity_credentials_registered_total",
		Help: "Number of credential ids registered in the revocation ledger",
	})
)
