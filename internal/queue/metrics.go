package queue

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	workerMetricsOnce sync.Once

	jobsProcessed *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	rateLimited   prometheus.Counter
)

func initWorkerMetrics() {
	workerMetricsOnce.Do(func() {
		jobsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "syntra",
			Subsystem: "worker",
			Name:      "jobs_processed_total",
			Help:      "Count of consumed jobs by terminal outcome",
		}, []string{"job", "outcome"})

		jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "syntra",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Handler latency distribution per job type",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"job"})

		rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "syntra",
			Subsystem: "worker",
			Name:      "rate_limited_total",
			Help:      "Number of times job pickup was deferred by the per-minute cap",
		})

		collectors := []prometheus.Collector{jobsProcessed, jobDuration, rateLimited}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch v := are.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						jobsProcessed = v
					case *prometheus.HistogramVec:
						jobDuration = v
					case prometheus.Counter:
						rateLimited = v
					}
				}
			}
		}
	})
}
