// Package metrics exposes Prometheus collectors for the bulk pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	artifactsTotal             *prometheus.CounterVec
	transferBytesTotal         *prometheus.CounterVec
	transferRetriesTotal       *prometheus.CounterVec
	activeTransfers            prometheus.Gauge
	listingRequestsTotal       *prometheus.CounterVec
	archivesTotal              *prometheus.CounterVec
	unitsTotal                 *prometheus.CounterVec
	mergeSourcesTotal          *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		artifactsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alma_bulk_artifacts_total",
				Help: "Artifacts handled by the download stage, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		transferBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alma_bulk_transfer_bytes_total",
				Help: "Bytes written by completed transfers, labeled by kind.",
			},
			[]string{"kind"},
		)

		transferRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alma_bulk_transfer_retries_total",
				Help: "Transfer attempts that were retried, labeled by kind.",
			},
			[]string{"kind"},
		)

		activeTransfers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "alma_bulk_active_transfers",
				Help: "Number of transfers currently in flight.",
			},
		)

		listingRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alma_bulk_listing_requests_total",
				Help: "Artifact listing requests, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		archivesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alma_bulk_archives_total",
				Help: "Archives processed by the unpack stage, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		unitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alma_bulk_units_total",
				Help: "Units processed, labeled by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		)

		mergeSourcesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alma_bulk_merge_sources_total",
				Help: "Shard stores and summary files visited by merge, labeled by type and outcome.",
			},
			[]string{"type", "outcome"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alma_bulk_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveArtifact records one artifact outcome (downloaded, satisfied, duplicate, failed).
func ObserveArtifact(kind, outcome string, bytesWritten int64) {
	Init()
	artifactsTotal.WithLabelValues(kind, outcome).Inc()
	if bytesWritten > 0 {
		transferBytesTotal.WithLabelValues(kind).Add(float64(bytesWritten))
	}
}

// ObserveTransferRetry counts a retried transfer attempt.
func ObserveTransferRetry(kind string) {
	Init()
	transferRetriesTotal.WithLabelValues(kind).Inc()
}

// IncActiveTransfers increments the in-flight transfer gauge.
func IncActiveTransfers() {
	Init()
	activeTransfers.Inc()
}

// DecActiveTransfers decrements the in-flight transfer gauge.
func DecActiveTransfers() {
	Init()
	activeTransfers.Dec()
}

// ObserveListing counts one listing request.
func ObserveListing(outcome string) {
	Init()
	listingRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveArchive counts one archive extraction.
func ObserveArchive(source, outcome string) {
	Init()
	archivesTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveUnit counts one unit passing through a stage.
func ObserveUnit(stage, outcome string) {
	Init()
	unitsTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveMergeSource counts one merge input.
func ObserveMergeSource(sourceType, outcome string) {
	Init()
	mergeSourcesTotal.WithLabelValues(sourceType, outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
