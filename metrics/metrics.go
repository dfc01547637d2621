package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes used as the "outcome" label.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	fetchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "histohour_fetch_requests_total",
		Help: "HTTP attempts against the histohour endpoint",
	}, []string{"exchange", "pair", "outcome"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "histohour_fetch_duration_seconds",
		Help:    "Time spent on a single histohour attempt",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"exchange"})

	fetchedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "histohour_rows_total",
		Help: "Candle rows returned by the API",
	}, []string{"exchange", "pair"})

	runDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scrape_run_duration_seconds",
		Help: "Wall time of the last scrape run",
	})

	runFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scrape_run_failed_fetches",
		Help: "Failed (pair, exchange) combinations in the last run",
	})

	aggregatedRows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aggregate_rows",
		Help: "Timestamps in the last aggregated table",
	})

	mu        sync.Mutex
	requests  uint64
	failures  uint64
	rows      uint64
	startTime = time.Now()
)

// RecordFetch records one attempt.
func RecordFetch(exchange, pair string, d time.Duration, rowCount int, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	fetchRequests.WithLabelValues(exchange, pair, outcome).Inc()
	fetchDuration.WithLabelValues(exchange).Observe(d.Seconds())
	if rowCount > 0 {
		fetchedRows.WithLabelValues(exchange, pair).Add(float64(rowCount))
	}

	mu.Lock()
	requests++
	if err != nil {
		failures++
	}
	rows += uint64(rowCount)
	mu.Unlock()
}

// RecordRun records the outcome of a completed scrape.
func RecordRun(d time.Duration, failed int) {
	runDuration.Set(d.Seconds())
	runFailures.Set(float64(failed))
}

func RecordAggregate(timestamps int) {
	aggregatedRows.Set(float64(timestamps))
}

// GetStats returns process totals: attempts, failed attempts, rows, uptime.
func GetStats() (uint64, uint64, uint64, time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	return requests, failures, rows, time.Since(startTime)
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
