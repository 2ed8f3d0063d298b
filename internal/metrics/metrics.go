package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "recargas_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestFiles     *prometheus.CounterVec
	ingestParseErrs prometheus.Counter

	matchResults *prometheus.CounterVec

	resolutions *prometheus.CounterVec

	creditOutcomes *prometheus.CounterVec
	creditAmount   *prometheus.CounterVec
	batchTotal     *prometheus.CounterVec
	batchLatency   *prometheus.HistogramVec
)

// Init registers reconciliation metrics with the default registry.
func Init() {
	registerOnce.Do(func() {
		ingestFiles = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_files_total",
				Help: "Settlement files ingested by result",
			},
			[]string{"result"},
		)
		ingestParseErrs = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_parse_errors_total",
				Help: "Settlement rows rejected while parsing",
			},
		)
		matchResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "match_results_total",
				Help: "Automatic matching results by outcome",
			},
			[]string{"outcome"},
		)
		resolutions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "manual_resolutions_total",
				Help: "Manual reconciliation steps by stage and result",
			},
			[]string{"stage", "result"},
		)
		creditOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "credit_outcomes_total",
				Help: "Credit line outcomes",
			},
			[]string{"outcome"},
		)
		creditAmount = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "credit_amount_minor_units_total",
				Help: "Credited amount in minor currency units by outcome",
			},
			[]string{"outcome"},
		)
		batchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "credit_batches_total",
				Help: "Credit batches by result",
			},
			[]string{"result"},
		)
		batchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "credit_batch_latency_seconds",
				Help:    "Credit batch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			ingestFiles,
			ingestParseErrs,
			matchResults,
			resolutions,
			creditOutcomes,
			creditAmount,
			batchTotal,
			batchLatency,
		)
	})
}

// ObserveIngest counts an ingested file and its rejected rows.
func ObserveIngest(result string, parseErrors int) {
	if result == "" {
		result = resultSuccess
	}
	if ingestFiles != nil {
		ingestFiles.WithLabelValues(result).Inc()
	}
	if ingestParseErrs != nil && parseErrors > 0 {
		ingestParseErrs.Add(float64(parseErrors))
	}
}

// IncMatch increments the matcher outcome counter.
func IncMatch(matched bool) {
	if matchResults == nil {
		return
	}
	if matched {
		matchResults.WithLabelValues("matched").Inc()
	} else {
		matchResults.WithLabelValues("unmatched").Inc()
	}
}

// IncResolution counts a propose or confirm step.
func IncResolution(stage, result string) {
	if stage == "" {
		stage = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if resolutions != nil {
		resolutions.WithLabelValues(stage, result).Inc()
	}
}

// ObserveCreditLine records one line outcome and its amount.
func ObserveCreditLine(outcome string, amount int64) {
	if outcome == "" {
		outcome = "unknown"
	}
	if creditOutcomes != nil {
		creditOutcomes.WithLabelValues(outcome).Inc()
	}
	if creditAmount != nil && amount > 0 {
		creditAmount.WithLabelValues(outcome).Add(float64(amount))
	}
}

// ObserveBatch records batch latency and result.
func ObserveBatch(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if batchTotal != nil {
		batchTotal.WithLabelValues(result).Inc()
	}
	if batchLatency != nil {
		batchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
