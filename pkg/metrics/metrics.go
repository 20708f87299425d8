package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store metrics
	UpdatesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notecove_updates_written_total",
			Help: "Total number of CRDT update files written by document type",
		},
		[]string{"doc_type"},
	)

	PacksCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notecove_packs_created_total",
			Help: "Total number of pack files created",
		},
	)

	SnapshotsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notecove_snapshots_created_total",
			Help: "Total number of snapshot files written",
		},
	)

	LogRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notecove_log_rotations_total",
			Help: "Total number of append-log rotations",
		},
	)

	// GC metrics
	GCFilesDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notecove_gc_files_deleted_total",
			Help: "Total number of files deleted by garbage collection by kind",
		},
		[]string{"kind"},
	)

	GCBytesFreedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notecove_gc_bytes_freed_total",
			Help: "Total bytes reclaimed by garbage collection",
		},
	)

	GCDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notecove_gc_duration_seconds",
			Help:    "Time taken for a garbage-collection run in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Compactor metrics
	CompactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notecove_compaction_duration_seconds",
			Help:    "Time taken for a compaction cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CompactionCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notecove_compaction_cycles_total",
			Help: "Total number of compaction cycles completed",
		},
	)

	// Polling metrics
	PollsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notecove_polls_dispatched_total",
			Help: "Total number of note polls dispatched by priority",
		},
		[]string{"priority"},
	)

	PollHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notecove_poll_hits_total",
			Help: "Total number of polls that found new data",
		},
	)

	PollQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notecove_poll_queue_depth",
			Help: "Current number of entries in the polling queue",
		},
	)

	// Reconstruction metrics
	ReconstructionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notecove_reconstruction_duration_seconds",
			Help:    "Time taken to reconstruct a document state in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(UpdatesWrittenTotal)
	prometheus.MustRegister(PacksCreatedTotal)
	prometheus.MustRegister(SnapshotsCreatedTotal)
	prometheus.MustRegister(LogRotationsTotal)
	prometheus.MustRegister(GCFilesDeletedTotal)
	prometheus.MustRegister(GCBytesFreedTotal)
	prometheus.MustRegister(GCDuration)
	prometheus.MustRegister(CompactionDuration)
	prometheus.MustRegister(CompactionCyclesTotal)
	prometheus.MustRegister(PollsDispatchedTotal)
	prometheus.MustRegister(PollHitsTotal)
	prometheus.MustRegister(PollQueueDepth)
	prometheus.MustRegister(ReconstructionDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
