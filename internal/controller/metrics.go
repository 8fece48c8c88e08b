package controller

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vramd",
			Subsystem: "controller",
			Name:      "loads_total",
			Help:      "Total number of backend processes started",
		},
	)

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vramd",
			Subsystem: "controller",
			Name:      "evictions_total",
			Help:      "Total number of models evicted, by reason",
		},
		[]string{"reason"},
	)

	startFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vramd",
			Subsystem: "controller",
			Name:      "start_failures_total",
			Help:      "Total number of backend starts that failed",
		},
	)

	memoryRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vramd",
			Subsystem: "controller",
			Name:      "memory_rejections_total",
			Help:      "Total number of admissions rejected for lack of device memory",
		},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal, evictionsTotal, startFailuresTotal, memoryRejectionsTotal)
}
