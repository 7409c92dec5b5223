package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mentionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_mentions_total",
			Help: "Total number of handled mentions by outcome.",
		},
		[]string{"source", "outcome"},
	)
	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_stage_duration_seconds",
			Help:    "Pipeline stage latency by stage and status.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage", "status"},
	)
	resultRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_result_rows",
			Help:    "Number of rows returned by executed candidate queries.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000, 5000},
		},
	)
	malformedEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_malformed_events_total",
			Help: "Total number of inbound chat events that could not be decoded as mentions.",
		},
	)
	historyWriteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_history_write_failures_total",
			Help: "Total number of failed history writes by sink.",
		},
		[]string{"sink"},
	)
	archiveFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_archive_flushes_total",
			Help: "Total number of history archive flushes by status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		mentionsTotal,
		stageDurationSeconds,
		resultRows,
		malformedEventsTotal,
		historyWriteFailuresTotal,
		archiveFlushesTotal,
	)
}

func ObserveMention(source, outcome string) {
	mentionsTotal.WithLabelValues(source, outcome).Inc()
}

func ObserveStage(stage string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	stageDurationSeconds.WithLabelValues(stage, status).Observe(elapsed.Seconds())
}

func ObserveResultRows(n int) {
	if n < 0 {
		n = 0
	}
	resultRows.Observe(float64(n))
}

func IncrementMalformedEvents() {
	malformedEventsTotal.Inc()
}

func IncrementHistoryWriteFailure(sink string) {
	historyWriteFailuresTotal.WithLabelValues(sink).Inc()
}

func ObserveArchiveFlush(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	archiveFlushesTotal.WithLabelValues(status).Inc()
}
