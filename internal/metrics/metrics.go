// Package metrics exposes Prometheus collectors for the joblens service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlPagesTotal       *prometheus.CounterVec
	crawlCandidatesTotal  *prometheus.CounterVec
	resolutionsTotal      *prometheus.CounterVec
	dedupSkipsTotal       *prometheus.CounterVec
	postingsEmittedTotal  prometheus.Counter
	pipelineRecordsTotal  *prometheus.CounterVec
	streamBackpressure    prometheus.Counter
	pipelineChunkSeconds  *prometheus.HistogramVec
	resolutionWaitSeconds prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joblens_crawl_pages_total",
				Help: "Total number of search pages visited, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlCandidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joblens_crawl_candidates_total",
				Help: "Total number of result cards extracted, labeled by keyword.",
			},
			[]string{"keyword"},
		)

		resolutionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joblens_resolutions_total",
				Help: "Total link resolution attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		dedupSkipsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joblens_dedup_skips_total",
				Help: "Candidates skipped as duplicates, labeled by dedup stage.",
			},
			[]string{"stage"},
		)

		postingsEmittedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "joblens_postings_emitted_total",
				Help: "New postings emitted to the processing pipeline.",
			},
		)

		pipelineRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joblens_pipeline_records_total",
				Help: "Pipeline records, labeled by strategy and result.",
			},
			[]string{"mode", "result"},
		)

		streamBackpressure = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "joblens_stream_backpressure_pauses_total",
				Help: "Times the stream processor paused ingestion near buffer capacity.",
			},
		)

		pipelineChunkSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "joblens_pipeline_chunk_duration_seconds",
				Help:    "Histogram of per-chunk processing latency by strategy.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"mode"},
		)

		resolutionWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "joblens_resolution_wait_seconds",
				Help:    "Histogram of time spent in the link resolution race.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8},
			},
		)
	})
}

// IncPage records a visited (or failed) search page.
func IncPage(outcome string) {
	Init()
	crawlPagesTotal.WithLabelValues(outcome).Inc()
}

// AddCandidates records extracted result cards for a keyword.
func AddCandidates(keyword string, n int) {
	Init()
	crawlCandidatesTotal.WithLabelValues(keyword).Add(float64(n))
}

// IncResolution records one resolution attempt by outcome.
func IncResolution(outcome string) {
	Init()
	resolutionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveResolutionWait records time spent inside the resolution race.
func ObserveResolutionWait(seconds float64) {
	Init()
	resolutionWaitSeconds.Observe(seconds)
}

// IncDedupSkip records a candidate skipped at the given dedup stage
// ("provisional" before resolution, "known" after).
func IncDedupSkip(stage string) {
	Init()
	dedupSkipsTotal.WithLabelValues(stage).Inc()
}

// IncPostingEmitted records one new posting handed to the pipeline.
func IncPostingEmitted() {
	Init()
	postingsEmittedTotal.Inc()
}

// AddPipelineRecords records processed/failed record counts for a strategy.
func AddPipelineRecords(mode, result string, n int) {
	Init()
	pipelineRecordsTotal.WithLabelValues(mode, result).Add(float64(n))
}

// IncBackpressurePause records one ingestion pause in the stream processor.
func IncBackpressurePause() {
	Init()
	streamBackpressure.Inc()
}

// ObserveChunk records one chunk's processing latency for a strategy.
func ObserveChunk(mode string, seconds float64) {
	Init()
	pipelineChunkSeconds.WithLabelValues(mode).Observe(seconds)
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
