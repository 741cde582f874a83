// Package metrics implements the engine's observability outputs (§6):
// commit/conflict counters, WAL byte/fsync/segment-rotation counters, and
// recovery replay stats, as Prometheus collectors registered at package
// init, mirroring the global-collector-plus-init-MustRegister pattern
// the retrieval pack's metrics package uses.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CommitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_commits_total",
		Help: "Total number of transactions that committed successfully.",
	})

	ConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strata_conflicts_total",
			Help: "Total number of transactions aborted by the conflict validator, by cause.",
		},
		[]string{"cause"}, // "stale_read" or "cas_mismatch"
	)

	WALBytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_wal_bytes_written_total",
		Help: "Total bytes appended to the write-ahead log.",
	})

	WALFsyncsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_wal_fsyncs_total",
		Help: "Total number of fsync calls issued against WAL segments.",
	})

	WALSegmentRotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_wal_segment_rotations_total",
		Help: "Total number of WAL segment rotations.",
	})

	SnapshotBytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_snapshot_bytes_written_total",
		Help: "Total bytes written across all checkpoint snapshots.",
	})

	SnapshotDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "strata_snapshot_duration_seconds",
		Help:    "Wall-clock duration of checkpoint() calls.",
		Buckets: prometheus.DefBuckets,
	})

	RecoveryRecordsReplayedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_recovery_records_replayed_total",
		Help: "Total WAL records applied across all recoveries.",
	})

	RecoveryRecordsSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_recovery_records_skipped_total",
		Help: "Total WAL records skipped across all recoveries because their txn_id was already in the snapshot.",
	})

	RecoveryTruncationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strata_recovery_truncations_total",
		Help: "Total number of times recovery truncated the active WAL segment after a corrupt or partial record.",
	})
)

func init() {
	prometheus.MustRegister(
		CommitsTotal,
		ConflictsTotal,
		WALBytesWritten,
		WALFsyncsTotal,
		WALSegmentRotationsTotal,
		SnapshotBytesWritten,
		SnapshotDurationSeconds,
		RecoveryRecordsReplayedTotal,
		RecoveryRecordsSkippedTotal,
		RecoveryTruncationsTotal,
	)
}

// Recorder adapts the package's global collectors to the small,
// single-purpose interfaces other packages define at their own seams
// (e.g. wal.Metrics), so those packages never import prometheus directly.
type Recorder struct{}

// AddWALBytes implements wal.Metrics.
func (Recorder) AddWALBytes(n int64) { WALBytesWritten.Add(float64(n)) }

// IncFsync implements wal.Metrics.
func (Recorder) IncFsync() { WALFsyncsTotal.Inc() }

// IncSegmentRotation implements wal.Metrics.
func (Recorder) IncSegmentRotation() { WALSegmentRotationsTotal.Inc() }

// RecordCommit records one successful commit.
func (Recorder) RecordCommit() { CommitsTotal.Inc() }

// RecordConflict records one aborted transaction, labeled by cause.
func (Recorder) RecordConflict(cause string) { ConflictsTotal.WithLabelValues(cause).Inc() }

// RecordCheckpoint records one completed checkpoint's size and duration.
func (Recorder) RecordCheckpoint(bytesWritten int64, durationSeconds float64) {
	SnapshotBytesWritten.Add(float64(bytesWritten))
	SnapshotDurationSeconds.Observe(durationSeconds)
}

// RecordRecovery records one completed recovery's replay counters.
func (Recorder) RecordRecovery(replayed, skipped int, truncated bool) {
	RecoveryRecordsReplayedTotal.Add(float64(replayed))
	RecoveryRecordsSkippedTotal.Add(float64(skipped))
	if truncated {
		RecoveryTruncationsTotal.Inc()
	}
}
