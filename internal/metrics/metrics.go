// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

var (
	stageItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geomap_stage_items_total",
			Help: "Total number of descriptors processed, labeled by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)

	stageItemDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geomap_stage_item_duration_seconds",
			Help:    "Histogram of per-descriptor processing time, labeled by stage.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"stage"},
	)

	downloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geomap_download_bytes_total",
			Help: "Total number of bytes written by the download stage.",
		},
	)

	toolchainRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geomap_toolchain_runs_total",
			Help: "Total number of ingestion toolchain invocations, labeled by subcommand and outcome.",
		},
		[]string{"subcommand", "outcome"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geomap_rate_limit_delay_seconds",
			Help:    "Time spent waiting for a per-host request slot, labeled by host.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"host"},
	)

	downloadRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geomap_download_retries_total",
			Help: "Total number of download attempts repeated after a transient failure.",
		},
	)
)

// ObserveStageItem records one processed descriptor.
func ObserveStageItem(stage, outcome string, duration time.Duration) {
	stageItemsTotal.WithLabelValues(stage, outcome).Inc()
	stageItemDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records how long a request waited for its host's limiter.
func ObserveRateLimitDelay(host string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// IncDownloadRetries counts one repeated download attempt.
func IncDownloadRetries() {
	downloadRetriesTotal.Inc()
}

// AddDownloadedBytes increments the downloaded byte counter.
func AddDownloadedBytes(n int64) {
	if n > 0 {
		downloadBytesTotal.Add(float64(n))
	}
}

// ObserveToolchainRun records one toolchain subprocess.
func ObserveToolchainRun(subcommand string, err error) {
	outcome := OutcomeSucceeded
	if err != nil {
		outcome = OutcomeFailed
	}
	toolchainRunsTotal.WithLabelValues(subcommand, outcome).Inc()
}

// StageItems returns the counter for a stage/outcome pair (used by tests and summaries).
func StageItems(stage, outcome string) prometheus.Counter {
	return stageItemsTotal.WithLabelValues(stage, outcome)
}

// WriteTextfile dumps the default registry in the node_exporter textfile format.
// An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
