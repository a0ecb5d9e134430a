package ranking

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// offerChanges tracks offer-change notifications by action.
	offerChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ranking_offer_changes_total",
		Help: "Total number of offer-change notifications by action",
	}, []string{"action"})

	// pointOutcomes tracks what the updater did for each reference point.
	pointOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ranking_point_outcomes_total",
		Help: "Incremental update outcomes per reference point",
	}, []string{"outcome"}) // outcome: updated, admitted, rejected, refilled, untouched, repaired, failed

	// recomputeDuration tracks scoped full recompute latency.
	recomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ranking_recompute_duration_seconds",
		Help:    "Time taken to recompute one ranked set",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// recomputeCandidates tracks the number of offers scored by a recompute.
	recomputeCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ranking_recompute_candidates_count",
		Help:    "Number of offers scored in a ranked set recompute",
		Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
	})

	// changeDuration tracks the full fan-out latency of one offer change.
	changeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ranking_offer_change_duration_seconds",
		Help:    "Time taken to apply an offer change to all reference points",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	// readSource tracks where the read path got its offers from.
	readSource = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ranking_read_source_total",
		Help: "Offer reads by source",
	}, []string{"source"}) // source: live, cache
)

// Outcomes of applying a change to one reference point.
const (
	OutcomeUpdated   = "updated"
	OutcomeAdmitted  = "admitted"
	OutcomeRejected  = "rejected"
	OutcomeRefilled  = "refilled"
	OutcomeUntouched = "untouched"
	OutcomeRepaired  = "repaired"
	OutcomeFailed    = "failed"
)

// MetricsRecorder provides methods to record ranking metrics.
type MetricsRecorder struct{}

// NewMetricsRecorder creates a new metrics recorder.
func NewMetricsRecorder() *MetricsRecorder {
	return &MetricsRecorder{}
}

// RecordOfferChange records an incoming offer change.
func (m *MetricsRecorder) RecordOfferChange(action Action, duration time.Duration) {
	offerChanges.WithLabelValues(string(action)).Inc()
	changeDuration.Observe(duration.Seconds())
}

// RecordOutcome records the outcome for one reference point.
func (m *MetricsRecorder) RecordOutcome(outcome string) {
	pointOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRecompute records a scoped full recompute.
func (m *MetricsRecorder) RecordRecompute(duration time.Duration, candidates int) {
	recomputeDuration.Observe(duration.Seconds())
	recomputeCandidates.Observe(float64(candidates))
}

// RecordReadSource records which source served a read.
func (m *MetricsRecorder) RecordReadSource(source string) {
	readSource.WithLabelValues(source).Inc()
}
