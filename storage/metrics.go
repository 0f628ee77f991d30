package storage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "identity_store_operation_duration_seconds",
	Help:    "Latency of store adapter operations.",
	Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
}, []string{"backend", "op"})

// Observe records how long op took on backend. Use it as
// defer storage.Observe("redis", "get_document", time.Now()).
func Observe(backend, op string, start time.Time) {
	operationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
