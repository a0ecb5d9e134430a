package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ranking_job_runs_total",
		Help: "Total number of batch job runs by job and status",
	}, []string{"job", "status"}) // status: completed, aborted, failed

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ranking_job_duration_seconds",
		Help:    "Batch job duration",
		Buckets: []float64{1, 5, 30, 60, 300, 900, 1800, 3600},
	}, []string{"job"})

	jobKeys = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ranking_job_keys_total",
		Help: "Keys processed by batch jobs",
	}, []string{"job", "result"}) // result: ok, failed

	jobRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ranking_job_running",
		Help: "1 while a batch job is running",
	}, []string{"job"})

	jobLastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ranking_job_last_success_timestamp_seconds",
		Help: "Unix time of the last run that finished without aborting",
	}, []string{"job"})
)

// MetricsRecorder records batch job metrics.
type MetricsRecorder struct{}

// NewMetricsRecorder creates a new metrics recorder.
func NewMetricsRecorder() *MetricsRecorder {
	return &MetricsRecorder{}
}

// RecordKey records one processed key.
func (m *MetricsRecorder) RecordKey(job Name, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	jobKeys.WithLabelValues(string(job), result).Inc()
}

// RecordStart marks a job as running.
func (m *MetricsRecorder) RecordStart(job Name) {
	jobRunning.WithLabelValues(string(job)).Set(1)
}

// RecordRun records a finished run.
func (m *MetricsRecorder) RecordRun(s *Summary) {
	jobRunning.WithLabelValues(string(s.Job)).Set(0)
	jobDuration.WithLabelValues(string(s.Job)).Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
	jobRuns.WithLabelValues(string(s.Job), s.Status).Inc()
	if s.Status == StatusCompleted {
		jobLastSuccess.WithLabelValues(string(s.Job)).Set(float64(time.Now().Unix()))
	}
}
