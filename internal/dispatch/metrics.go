package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "push"

// Cycle results recorded on push_dispatch_cycles_total.
const (
	resultOK           = "ok"
	resultNoContent    = "no_content"
	resultContentError = "content_error"
	resultStoreError   = "store_error"
	resultEncodeError  = "encode_error"
)

// Metrics holds the dispatch collectors.
type Metrics struct {
	cycles     *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	pruned     prometheus.Counter
	duration   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_cycles_total",
			Help:      "Dispatch cycles by result.",
		}, []string{"result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery attempts by outcome.",
		}, []string{"outcome"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_pruned_total",
			Help:      "Subscriptions removed after the push service reported them invalid.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of completed dispatch cycles.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.deliveries, m.pruned, m.duration)
	}
	return m
}
