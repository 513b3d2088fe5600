package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aoc_runner_executions_total",
			Help: "Total number of submissions run, by language and outcome",
		},
		[]string{"language", "outcome"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aoc_runner_execution_duration_ms",
			Help:    "Wall-clock run time of completed submissions in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"language"},
	)

	MemoryUsage = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aoc_runner_memory_usage_kb",
			Help:    "Peak memory usage per completed submission in KB",
			Buckets: []float64{1024, 4096, 16384, 65536, 131072, 262144},
		},
		[]string{"language"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aoc_runner_active_sessions",
			Help: "Number of submission containers currently admitted",
		},
	)

	AdmissionRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aoc_runner_admission_rejections_total",
			Help: "Total number of runs rejected because the server was busy",
		},
	)

	ImagePulls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aoc_runner_image_pulls_total",
			Help: "Image pulls by result",
		},
		[]string{"result"},
	)

	TeardownFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aoc_runner_teardown_failures_total",
			Help: "Containers that could not be removed after a run",
		},
	)

	ReapedContainers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aoc_runner_reaped_containers_total",
			Help: "Stale submission containers removed by the reaper",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aoc_runner_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiter",
		},
	)
)
