package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Payments groups the payment lifecycle counters exposed on /metrics.
type Payments struct {
	Initiated *prometheus.CounterVec
	Succeeded prometheus.Counter
	Failed    prometheus.Counter
	TimedOut  prometheus.Counter
	Callbacks *prometheus.CounterVec
}

func NewPayments(reg prometheus.Registerer) *Payments {
	factory := promauto.With(reg)
	return &Payments{
		Initiated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_initiated_total",
			Help: "Payment attempts created, by method.",
		}, []string{"method"}),
		Succeeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "payments_succeeded_total",
			Help: "Payment attempts confirmed by the provider.",
		}),
		Failed: factory.NewCounter(prometheus.CounterOpts{
			Name: "payments_failed_total",
			Help: "Payment attempts rejected or cancelled.",
		}),
		TimedOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "payments_timed_out_total",
			Help: "Payment attempts expired by the timeout sweep.",
		}),
		Callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_callbacks_total",
			Help: "Provider callbacks received, by outcome.",
		}, []string{"outcome"}),
	}
}
