package strata

import (
	"time"

	"github.com/stratadb/strata/internal/codec"
	"github.com/stratadb/strata/internal/wal"
)

// Durability is the engine-level durability policy enum (§6 "Configuration").
// It is a superset of wal.Policy: InMemory has no Writer at all, so it
// cannot be expressed as a wal.Policy value, which only ever governs an
// existing Writer's fsync discipline.
type Durability byte

const (
	// InMemory never writes a WAL; committed data does not survive a
	// process crash or a close/reopen cycle (§4.5).
	InMemory Durability = iota + 1
	// Buffered writes the WAL but defers fsync: a background flush thread
	// fsyncs on an elapsed interval, and the commit whose record pushes
	// the unsynced bytes past the threshold fsyncs inline.
	Buffered
	// Strict fsyncs the WAL record before commit() returns. The default
	// policy (§6).
	Strict
)

func (d Durability) String() string {
	switch d {
	case InMemory:
		return "in-memory"
	case Buffered:
		return "buffered"
	case Strict:
		return "strict"
	default:
		return "unknown"
	}
}

// toWALPolicy translates the engine-level policy to the wal package's
// narrower enum. Must not be called for InMemory — the caller is expected to
// skip constructing a wal.Writer entirely in that case.
func (d Durability) toWALPolicy() wal.Policy {
	if d == Buffered {
		return wal.Buffered
	}
	return wal.Strict
}

// Config configures an Engine (§6 "Configuration (enumerated)").
type Config struct {
	// Durability selects when committed bytes reach stable storage.
	// Default Strict.
	Durability Durability

	// WALSegmentSize bounds the size of one WAL segment before rotation.
	// Default wal.DefaultMaxSegmentBytes (64 MiB).
	WALSegmentSize int64

	// BufferedFsyncBytes is the accumulated-bytes threshold that triggers
	// an out-of-band fsync under the Buffered policy. Default
	// wal.DefaultBufferedFsyncBytes (1 MiB).
	BufferedFsyncBytes int64

	// BufferedFsyncInterval is how often the Buffered policy's background
	// thread fsyncs absent a byte-threshold trigger. Default
	// wal.DefaultBufferedFsyncInterval (200ms).
	BufferedFsyncInterval time.Duration

	// MaxPendingWrites is accepted but not read by the engine: it is not
	// passed to the WAL, and commits never block on the Buffered policy's
	// flush thread, whatever its value.
	MaxPendingWrites int

	// CodecID names the byte-transform codec applied at the WAL/snapshot
	// boundary. Default codec.IdentityID. A database opened with a
	// different codec id than it was created with fails open() with
	// ErrCodecMismatch.
	CodecID string

	// Logging and Metrics are optional ambient seams; both are nil-safe.
	Logging LoggingConfig
	Metrics MetricsRecorder
}

// LoggingConfig configures the Engine's structured logger.
type LoggingConfig struct {
	Level      string // "debug", "info", "warn", "error"; default "info"
	JSONOutput bool
}

// MetricsRecorder is the seam an Engine reports commit/conflict/WAL/recovery
// counters through (§6 "Observability outputs"). A nil MetricsRecorder is
// valid — the internal/metrics.Recorder zero-size type satisfies it, and is
// used automatically when Config.Metrics is left nil.
type MetricsRecorder interface {
	AddWALBytes(n int64)
	IncFsync()
	IncSegmentRotation()
	RecordCommit()
	RecordConflict(cause string)
	RecordCheckpoint(bytesWritten int64, durationSeconds float64)
	RecordRecovery(replayed, skipped int, truncated bool)
}

// withDefaults returns a copy of cfg with every zero-valued field replaced by
// its documented default.
func (cfg Config) withDefaults() Config {
	if cfg.Durability == 0 {
		cfg.Durability = Strict
	}
	if cfg.WALSegmentSize <= 0 {
		cfg.WALSegmentSize = wal.DefaultMaxSegmentBytes
	}
	if cfg.BufferedFsyncBytes <= 0 {
		cfg.BufferedFsyncBytes = wal.DefaultBufferedFsyncBytes
	}
	if cfg.BufferedFsyncInterval <= 0 {
		cfg.BufferedFsyncInterval = wal.DefaultBufferedFsyncInterval
	}
	if cfg.CodecID == "" {
		cfg.CodecID = codec.IdentityID
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return cfg
}
