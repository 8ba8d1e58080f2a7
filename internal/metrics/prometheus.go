package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compms2_operations_total",
		Help: "Operations by type and result",
	}, []string{"op", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "compms2_operation_duration_seconds",
		Help:    "Duration of successful operations",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 1800},
	}, []string{"op"})
)

func observe(op string, d time.Duration) {
	operationsTotal.WithLabelValues(op, "ok").Inc()
	operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

func observeFailure(op string) {
	operationsTotal.WithLabelValues(op, "failed").Inc()
}

// Handler serves the Prometheus exposition of all collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}
