package admission

import "github.com/prometheus/client_golang/prometheus"

var (
	ledgerCapMB = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "leased",
		Subsystem: "ledger",
		Name:      "capacity_mb",
		Help:      "Usable VRAM capacity in MB",
	})

	ledgerUsedMB = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "leased",
		Subsystem: "ledger",
		Name:      "used_mb",
		Help:      "VRAM reserved by active leases in MB",
	})

	ledgerActiveLeases = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "leased",
		Subsystem: "ledger",
		Name:      "active_leases",
		Help:      "Number of active leases",
	})

	acquireTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leased",
			Subsystem: "admission",
			Name:      "acquire_total",
			Help:      "Acquire outcomes (granted, denied, invalid)",
		},
		[]string{"outcome"},
	)

	releaseTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "leased",
		Subsystem: "admission",
		Name:      "release_total",
		Help:      "Releases that removed an active lease",
	})

	reapedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "leased",
		Subsystem: "admission",
		Name:      "reaped_total",
		Help:      "Leases reclaimed after their TTL",
	})

	preemptionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "leased",
		Subsystem: "admission",
		Name:      "preemptions_total",
		Help:      "Preemption attempts made on behalf of denied requests",
	})
)

func init() {
	prometheus.MustRegister(ledgerCapMB, ledgerUsedMB, ledgerActiveLeases, acquireTotal, releaseTotal, reapedTotal, preemptionsTotal)
}
