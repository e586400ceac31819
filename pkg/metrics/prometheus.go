package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	providerRequests  *prometheus.CounterVec
	fallbackDepth     *prometheus.CounterVec
	unresolved        prometheus.Gauge
	selectionDuration prometheus.Histogram
	lastMarketCap     *prometheus.GaugeVec
	batchesTotal      *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		providerRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpull_provider_requests_total",
				Help: "Provider requests by field and outcome",
			},
			[]string{"provider", "field", "outcome"},
		),
		fallbackDepth: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpull_fallback_depth_total",
				Help: "Successful resolutions by fallback depth (1 = primary)",
			},
			[]string{"field", "depth"},
		),
		unresolved: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexpull_unresolved_symbols",
				Help: "Symbols left unresolved by the last selection run",
			},
		),
		selectionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "indexpull_selection_duration_seconds",
				Help:    "Duration of full selection runs in seconds",
				Buckets: []float64{1, 5, 15, 60, 180, 600, 1800, 3600},
			},
		),
		lastMarketCap: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "indexpull_last_market_cap",
				Help: "Last resolved market cap for a selected symbol",
			},
			[]string{"symbol"},
		),
		batchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpull_batches_total",
				Help: "Completed executor batches by operation",
			},
			[]string{"operation"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
	}
}

// RecordProviderRequest records one adapter call outcome.
func (r *Recorder) RecordProviderRequest(provider, field, outcome string) {
	r.providerRequests.WithLabelValues(provider, field, outcome).Inc()
}

// RecordFallbackDepth records which chain position served a request.
func (r *Recorder) RecordFallbackDepth(field string, depth int) {
	r.fallbackDepth.WithLabelValues(field, strconv.Itoa(depth)).Inc()
}

// RecordUnresolved records the unresolved tally of a selection run.
func (r *Recorder) RecordUnresolved(count int) {
	r.unresolved.Set(float64(count))
}

// RecordSelectionDuration records a full run's duration in seconds.
func (r *Recorder) RecordSelectionDuration(seconds float64) {
	r.selectionDuration.Observe(seconds)
}

// RecordMarketCap records the last resolved market cap for a symbol.
func (r *Recorder) RecordMarketCap(symbol string, cap float64) {
	r.lastMarketCap.WithLabelValues(symbol).Set(cap)
}

// RecordBatch records a completed executor batch.
func (r *Recorder) RecordBatch(op string) {
	r.batchesTotal.WithLabelValues(op).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
