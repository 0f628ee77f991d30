package credential

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "identity_credential_verifications_total",
	Help: "Number of credential verifications by outcome.",
}, []string{"status"})
