package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsPrefix = "invoicebox_ingest_"

var recordsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "records_total",
		Help: "Number of processed upload records by outcome",
	},
	[]string{"outcome"},
)

var sliceDurationHist = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    metricsPrefix + "slice_duration_seconds",
		Help:    "Time for every record of a slice to settle",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	},
)

var attemptsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "attempts_total",
		Help: "Number of upload connection attempts by terminal event",
	},
	[]string{"terminal"},
)

var publishFailuresCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: metricsPrefix + "publish_failures_total",
		Help: "Number of invoice.ingested notifications that could not be published",
	},
)

const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
	outcomeTimeout   = "timeout"
)

// Terminal event names used as the attempts_total label.
const (
	TerminalComplete = "complete"
	TerminalResume   = "resume"
	TerminalError    = "error"
	TerminalAborted  = "aborted"
)

func recordRecordOutcome(outcome string) {
	recordsCounter.WithLabelValues(outcome).Inc()
}

func recordSliceDuration(d time.Duration) {
	sliceDurationHist.Observe(d.Seconds())
}

// RecordAttempt counts one finished connection attempt.
func RecordAttempt(terminal string) {
	attemptsCounter.WithLabelValues(terminal).Inc()
}

func recordPublishFailure() {
	publishFailuresCounter.Inc()
}
