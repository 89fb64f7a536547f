package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	transitions    *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	storeErrors    *prometheus.CounterVec
	resyncDuration prometheus.Histogram
	timers         prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer, depth func() int) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	m := &metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dropwatch_transitions_total",
			Help: "Committed status transitions by target status.",
		}, []string{"status"}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dropwatch_events_dropped_total",
			Help: "Queue items dropped before processing, by reason.",
		}, []string{"reason"}),
		storeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dropwatch_store_errors_total",
			Help: "Status store operations that failed during reconciliation.",
		}, []string{"op"}),
		resyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dropwatch_resync_duration_seconds",
			Help:    "Time spent applying a full snapshot.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		timers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dropwatch_timeout_timers",
			Help: "Armed per-file timeout timers.",
		}),
	}
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dropwatch_queue_depth",
		Help: "Items waiting in the reconciliation queue.",
	}, func() float64 { return float64(depth()) })
	return m
}
