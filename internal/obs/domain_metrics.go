package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// SettlementTotal counts pre-sale settlement outcomes.
	SettlementTotal *prometheus.CounterVec
	// SettlementDuration records settlement latency in milliseconds.
	SettlementDuration *prometheus.HistogramVec
	// SequenceAllocationsTotal counts sequence number allocations by counter and outcome.
	SequenceAllocationsTotal *prometheus.CounterVec
	// PresaleCreatedTotal counts persisted pre-sales.
	PresaleCreatedTotal prometheus.Counter
	// QuickSaleTotal counts direct point-of-sale registrations by outcome.
	QuickSaleTotal *prometheus.CounterVec
	// EventDispatchTotal counts post-commit domain event deliveries by topic and outcome.
	EventDispatchTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		SettlementTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_total",
			Help:      "Count of pre-sale settlement outcomes.",
		}, []string{"result"}))
		SettlementDuration = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_duration_ms",
			Help:      "Latency of pre-sale settlements in milliseconds.",
			Buckets:   defaultBucketsMs,
		}, []string{"result"}))
		SequenceAllocationsTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_allocations_total",
			Help:      "Count of sequence number allocations by counter and outcome.",
		}, []string{"name", "result"}))
		PresaleCreatedTotal = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presale_created_total",
			Help:      "Number of pre-sales persisted.",
		}))
		QuickSaleTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quick_sale_total",
			Help:      "Count of direct sale registrations by outcome.",
		}, []string{"result"}))
		EventDispatchTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_dispatch_total",
			Help:      "Count of post-commit domain event deliveries.",
		}, []string{"topic", "result"}))
	})
}
