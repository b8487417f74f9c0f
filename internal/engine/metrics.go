package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	runsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailaudit_runs_started_total",
			Help: "Total number of check runs admitted for execution.",
		},
		[]string{"kind"},
	)

	runsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailaudit_runs_completed_total",
			Help: "Total number of check runs that completed successfully.",
		},
		[]string{"kind"},
	)

	runsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailaudit_runs_failed_total",
			Help: "Total number of check runs that ended in failure.",
		},
		[]string{"kind"},
	)

	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailaudit_run_duration_seconds",
			Help:    "Wall-clock duration of completed check runs in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(runsStarted)
	prometheus.MustRegister(runsCompleted)
	prometheus.MustRegister(runsFailed)
	prometheus.MustRegister(runDuration)
}
