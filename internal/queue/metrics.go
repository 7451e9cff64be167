package queue

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Queue collectors. Depth and DLQ size are refreshed from the inspector when
// the stats endpoint is read.
var (
	EnqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_enqueued_total",
		Help: "Enqueue attempts by task kind and result (ok, duplicate, error).",
	}, []string{"kind", "result"})
	ProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_processed_total",
		Help: "Handled tasks by kind and status.",
	}, []string{"kind", "status"})
	Depth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_depth",
		Help: "Pending tasks per queue at the last stats read.",
	}, []string{"queue"})
	DLQSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "queue_dlq_size",
		Help: "Archived tasks per queue at the last stats read.",
	}, []string{"queue"})
)

// RegisterMetrics adds the queue collectors to reg, or the default registerer
// when reg is nil. Collectors already registered are left alone.
func RegisterMetrics(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{EnqueuedTotal, ProcessedTotal, Depth, DLQSize} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}
