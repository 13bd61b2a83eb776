package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes pipeline counters over Prometheus.
type Recorder struct {
	barsProcessed    *prometheus.CounterVec
	barsRejected     *prometheus.CounterVec
	detections       *prometheus.CounterVec
	rejections       *prometheus.CounterVec
	signalsApproved  *prometheus.CounterVec
	phaseTransitions *prometheus.CounterVec
	queueDepth       prometheus.Gauge
	barDuration      *prometheus.HistogramVec
}

// New creates a Prometheus metrics recorder registered on the default
// registry.
func New() *Recorder {
	return &Recorder{
		barsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyckoff_bars_processed_total",
				Help: "Total bars accepted into the pipeline",
			},
			[]string{"symbol"},
		),
		barsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyckoff_bars_rejected_total",
				Help: "Total malformed bars rejected at the ingestion boundary",
			},
			[]string{"symbol", "reason"},
		),
		detections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyckoff_pattern_detections_total",
				Help: "Total pattern detections before validation",
			},
			[]string{"symbol", "pattern"},
		),
		rejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyckoff_candidate_rejections_total",
				Help: "Total candidate rejections by stage",
			},
			[]string{"symbol", "stage", "reason"},
		),
		signalsApproved: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyckoff_signals_approved_total",
				Help: "Total signals approved and dispatched",
			},
			[]string{"symbol", "pattern"},
		),
		phaseTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyckoff_phase_transitions_total",
				Help: "Total phase transitions",
			},
			[]string{"symbol", "to"},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "wyckoff_dispatch_queue_depth",
				Help: "Signals currently waiting in the dispatch queue",
			},
		),
		barDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wyckoff_bar_processing_seconds",
				Help:    "Per-bar pipeline processing time",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"symbol"},
		),
	}
}

// BarProcessed counts an accepted bar.
func (r *Recorder) BarProcessed(symbol string) {
	r.barsProcessed.WithLabelValues(symbol).Inc()
}

// BarRejected counts a malformed bar dropped at ingestion.
func (r *Recorder) BarRejected(symbol, reason string) {
	r.barsRejected.WithLabelValues(symbol, reason).Inc()
}

// Detection counts a raw pattern detection.
func (r *Recorder) Detection(symbol, pattern string) {
	r.detections.WithLabelValues(symbol, pattern).Inc()
}

// Rejection counts a candidate rejected at a pipeline stage.
func (r *Recorder) Rejection(symbol, stage, reason string) {
	r.rejections.WithLabelValues(symbol, stage, reason).Inc()
}

// SignalApproved counts a dispatched signal.
func (r *Recorder) SignalApproved(symbol, pattern string) {
	r.signalsApproved.WithLabelValues(symbol, pattern).Inc()
}

// PhaseTransition counts a phase change.
func (r *Recorder) PhaseTransition(symbol, to string) {
	r.phaseTransitions.WithLabelValues(symbol, to).Inc()
}

// SetQueueDepth records the dispatch queue's current depth.
func (r *Recorder) SetQueueDepth(depth int) {
	r.queueDepth.Set(float64(depth))
}

// ObserveBarDuration records one bar's processing time in seconds.
func (r *Recorder) ObserveBarDuration(symbol string, seconds float64) {
	r.barDuration.WithLabelValues(symbol).Observe(seconds)
}
