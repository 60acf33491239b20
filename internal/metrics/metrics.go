package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	scanCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "autopunch",
			Name:      "scan_cycles_total",
			Help:      "Completed scan cycles.",
		},
	)

	scanSkips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "autopunch",
			Name:      "scan_skips_total",
			Help:      "Scanner ticks skipped because a cycle was still running.",
		},
	)

	tasksExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "autopunch",
			Name:      "tasks_expired_total",
			Help:      "Tasks moved to EXPIRED by the expiry pass.",
		},
	)

	taskOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopunch",
			Name:      "task_outcomes_total",
			Help:      "Executed tasks by terminal status.",
		},
		[]string{"status"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autopunch",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(scanCycles, scanSkips, tasksExpired, taskOutcomes, httpRequests)
	})
}

func IncScanCycle()   { scanCycles.Inc() }
func IncScanSkipped() { scanSkips.Inc() }

func AddExpired(n int64) {
	if n > 0 {
		tasksExpired.Add(float64(n))
	}
}

func IncTaskOutcome(status string) {
	taskOutcomes.WithLabelValues(status).Inc()
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
