package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type runnerMetrics struct {
	jobsCreated   *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	execDuration  prometheus.Observer
	activeJobs    prometheus.Gauge
	playlistItems *prometheus.CounterVec
	refusals      *prometheus.CounterVec
}

var (
	runnerMetricsOnce sync.Once
	runnerMetricsInst *runnerMetrics
)

func global() *runnerMetrics {
	runnerMetricsOnce.Do(func() {
		runnerMetricsInst = newRunnerMetrics()
	})
	return runnerMetricsInst
}

func newRunnerMetrics() *runnerMetrics {
	return &runnerMetrics{
		jobsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "runner",
			Name:      "jobs_created_total",
			Help:      "Jobs created, labeled by plugin",
		}, []string{"plugin"}),
		jobsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "runner",
			Name:      "jobs_finished_total",
			Help:      "Jobs reaching a terminal state, labeled by plugin and status",
		}, []string{"plugin", "status"}),
		execDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "runner",
			Name:      "execution_duration_seconds",
			Help:      "Duration of external command executions",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		activeJobs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "runner",
			Name:      "active_jobs",
			Help:      "Jobs currently pending or running",
		}),
		playlistItems: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "playlist",
			Name:      "items_total",
			Help:      "Playlist items processed, labeled by result",
		}, []string{"result"}),
		refusals: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "runner",
			Name:      "refusals_total",
			Help:      "Invocations refused before execution, labeled by reason",
		}, []string{"reason"}),
	}
}

func JobCreated(plugin string) {
	global().jobsCreated.WithLabelValues(plugin).Inc()
	global().activeJobs.Inc()
}

func JobFinished(plugin, status string, duration time.Duration) {
	global().jobsFinished.WithLabelValues(plugin, status).Inc()
	global().activeJobs.Dec()
	global().execDuration.Observe(duration.Seconds())
}

func PlaylistItem(result string) {
	global().playlistItems.WithLabelValues(result).Inc()
}

func Refusal(reason string) {
	global().refusals.WithLabelValues(reason).Inc()
}
