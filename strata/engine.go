// Package strata is the public engine API (§6): the embedded, single-node
// transactional storage engine that the seven primitive facades sit on top
// of. It wires together the addressing/value model, the sharded store, the
// transaction pool, the conflict validator, the write-ahead log, and the
// checkpoint/recovery subsystem behind one Open/Close/Begin/Checkpoint/
// Compact surface.
package strata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stratadb/strata/internal/addressing"
	"github.com/stratadb/strata/internal/codec"
	"github.com/stratadb/strata/internal/logging"
	"github.com/stratadb/strata/internal/manifest"
	"github.com/stratadb/strata/internal/metrics"
	"github.com/stratadb/strata/internal/recovery"
	"github.com/stratadb/strata/internal/shardstore"
	"github.com/stratadb/strata/internal/txn"
	"github.com/stratadb/strata/internal/validator"
	"github.com/stratadb/strata/internal/value"
	"github.com/stratadb/strata/internal/wal"
)

const (
	walDirName       = "WAL"
	snapshotsDirName = "SNAPSHOTS"
	manifestFileName = "MANIFEST"
)

// Engine is the top-level handle to an open Strata database directory
// (§6 "On-disk layout"). A cleanly-closed database directory is portable by
// file copy.
type Engine struct {
	mu     sync.RWMutex
	closed bool

	path      string
	cfg       Config
	codecImpl codec.Codec
	store     *shardstore.Store
	pool      *txn.Pool
	validator *validator.Validator
	walWriter *wal.Writer // nil in InMemory mode
	manifest  *manifest.Manifest
	logger    zerolog.Logger
	metrics   MetricsRecorder

	compacting atomic.Bool

	historyMu       sync.Mutex
	lastCheckpoint  *recovery.CheckpointInfo
	lastCompaction  *CompactInfo
	recoverySummary recovery.Summary
}

// Open opens (creating if necessary) the database directory at path,
// recovering from the latest snapshot plus WAL replay before returning a
// ready-for-service Engine (§4.6 "Recovery").
func Open(path string, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("strata: create database directory %s: %w", path, err)
	}
	walDir := filepath.Join(path, walDirName)
	snapshotDir := filepath.Join(path, snapshotsDirName)
	manifestPath := filepath.Join(path, manifestFileName)

	registry := codec.NewRegistry()
	codecImpl, err := registry.Get(cfg.CodecID)
	if err != nil {
		return nil, fmt.Errorf("%w: codec %q is not registered: %v", ErrCodecMismatch, cfg.CodecID, err)
	}

	m, err := openOrInitManifest(manifestPath, cfg.CodecID)
	if err != nil {
		return nil, err
	}

	store := shardstore.New()
	recSummary, err := recovery.Recover(recovery.Config{
		WALDir:      walDir,
		SnapshotDir: snapshotDir,
		DatabaseID:  m.DatabaseID(),
		Codec:       codecImpl,
		Manifest:    m,
		Store:       store,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	metricsRecorder := cfg.Metrics
	if metricsRecorder == nil {
		metricsRecorder = metrics.Recorder{}
	}

	logger := logging.New(logging.Config{
		Level:      logging.Level(cfg.Logging.Level),
		JSONOutput: cfg.Logging.JSONOutput,
	})
	logger = logging.WithDatabase(logger, m.DatabaseID().String())
	logger = logging.WithComponent(logger, "engine")

	var walWriter *wal.Writer
	if cfg.Durability != InMemory {
		walWriter, err = wal.Open(wal.Config{
			Dir:                   walDir,
			DatabaseID:            m.DatabaseID(),
			Codec:                 codecImpl,
			Policy:                cfg.Durability.toWALPolicy(),
			MaxSegmentBytes:       cfg.WALSegmentSize,
			BufferedFsyncInterval: cfg.BufferedFsyncInterval,
			BufferedFsyncBytes:    cfg.BufferedFsyncBytes,
			Tracker:               m,
			Metrics:               metricsRecorder,
		}, m.ActiveSegment())
		if err != nil {
			return nil, fmt.Errorf("strata: open wal: %w", err)
		}
	}

	var durabilitySeam validator.Durability
	if walWriter != nil {
		durabilitySeam = walWriter
	}

	e := &Engine{
		path:      path,
		cfg:       cfg,
		codecImpl: codecImpl,
		store:     store,
		pool:      txn.NewPool(store),
		validator: validator.New(store, durabilitySeam, metricsRecorder),
		walWriter: walWriter,
		manifest:  m,
		logger:    logger,
		metrics:   metricsRecorder,
	}
	e.recoverySummary = recSummary
	e.metrics.RecordRecovery(recSummary.RecordsReplayed, recSummary.RecordsSkipped, recSummary.TruncatedSegment != nil)

	e.logger.Info().
		Str("durability", cfg.Durability.String()).
		Bool("loaded_snapshot", recSummary.LoadedSnapshot).
		Int("records_replayed", recSummary.RecordsReplayed).
		Int("records_skipped", recSummary.RecordsSkipped).
		Msg("engine opened")

	return e, nil
}

func openOrInitManifest(manifestPath, codecID string) (*manifest.Manifest, error) {
	_, statErr := os.Stat(manifestPath)
	switch {
	case statErr == nil:
		m, err := manifest.Open(manifestPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if m.CodecID() != codecID {
			return nil, fmt.Errorf("%w: database was created with codec %q, configured codec is %q",
				ErrCodecMismatch, m.CodecID(), codecID)
		}
		return m, nil
	case os.IsNotExist(statErr):
		m := manifest.New(manifestPath, uuid.New(), codecID)
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("strata: initialize manifest: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("strata: stat manifest: %w", statErr)
	}
}

// Close flushes and fsyncs the active WAL segment (joining the Buffered
// policy's flush thread if one is running) and marks the Engine unusable for
// further operations.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.walWriter != nil {
		if err := e.walWriter.Close(); err != nil {
			return fmt.Errorf("strata: close wal: %w", err)
		}
	}
	e.logger.Info().Msg("engine closed")
	return nil
}

// Snapshot acquires a point-in-time read view of the whole store (§4.2,
// §6 "snapshot()"). Cheap and allocation-free.
func (e *Engine) Snapshot() shardstore.Snapshot {
	return e.store.Snapshot()
}

// Begin starts a new transaction scoped to run (§4.3 "begin(run)").
func (e *Engine) Begin(run addressing.RunID) (*Tx, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	return &Tx{engine: e, tx: e.pool.Begin(run)}, nil
}

// Keys enumerates every key of the given type tag under run whose user bytes
// start with prefix, sorted (§4.1 "list", generalized as a public
// administrative helper atop it — not part of the per-transaction hot path).
func (e *Engine) Keys(run addressing.RunID, tag addressing.TypeTag, prefix []byte) []addressing.Key {
	entries := e.store.List(run, tag, prefix)
	out := make([]addressing.Key, len(entries))
	for i, en := range entries {
		out[i] = en.Key
	}
	return out
}

// Checkpoint triggers a user-initiated checkpoint (§4.6 "Checkpoint
// operation"). There is no implicit background checkpointing.
func (e *Engine) Checkpoint(ctx context.Context) (recovery.CheckpointInfo, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return recovery.CheckpointInfo{}, ErrEngineClosed
	}
	e.mu.RUnlock()

	start := time.Now()
	ck := &recovery.Checkpointer{
		Dir:        filepath.Join(e.path, snapshotsDirName),
		DatabaseID: e.manifest.DatabaseID(),
		Codec:      e.codecImpl,
		Store:      e.store,
		Manifest:   e.manifest,
	}
	info, err := ck.Checkpoint(ctx)
	if err != nil {
		return recovery.CheckpointInfo{}, fmt.Errorf("strata: checkpoint: %w", err)
	}

	e.metrics.RecordCheckpoint(e.snapshotFileSize(info.SnapshotID), time.Since(start).Seconds())

	e.historyMu.Lock()
	e.lastCheckpoint = &info
	e.historyMu.Unlock()

	e.logger.Info().
		Uint64("watermark", info.Watermark).
		Uint32("snapshot_id", info.SnapshotID).
		Msg("checkpoint complete")
	return info, nil
}

func (e *Engine) snapshotFileSize(id uint32) int64 {
	fi, err := os.Stat(recovery.SnapshotPath(filepath.Join(e.path, snapshotsDirName), id))
	if err != nil {
		return 0
	}
	return fi.Size()
}

// EngineStats reports the administrative state stratactl's stats command
// surfaces: the supplemented in-memory checkpoint/compaction history (§6
// does not persist these beyond the Manifest's own (snapshot_id,
// watermark), so they reset on every Open).
type EngineStats struct {
	CurrentVersion  uint64
	Durability      Durability
	LastCheckpoint  *recovery.CheckpointInfo
	LastCompaction  *CompactInfo
	RecoverySummary recovery.Summary
}

// Stats returns the engine's current administrative snapshot.
func (e *Engine) Stats() EngineStats {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	return EngineStats{
		CurrentVersion:  e.store.CurrentVersion(),
		Durability:      e.cfg.Durability,
		LastCheckpoint:  e.lastCheckpoint,
		LastCompaction:  e.lastCompaction,
		RecoverySummary: e.recoverySummary,
	}
}

// Tx is a handle to an in-flight transaction (§4.3). Obtained from
// Engine.Begin, and must be terminated with exactly one call to Commit or
// Abort.
type Tx struct {
	engine *Engine
	tx     *txn.Tx
}

// Get reads key, checking the write set first (read-your-own-writes) and
// otherwise reading through the transaction's snapshot (§4.3 "get(key)").
func (t *Tx) Get(key addressing.Key) (value.Value, bool, error) {
	return t.tx.Get(key)
}

// Put buffers a write (§4.3 "put(key, value)").
func (t *Tx) Put(key addressing.Key, v value.Value) error {
	return t.tx.Put(key, v)
}

// Delete buffers a delete (§4.3 "delete(key)").
func (t *Tx) Delete(key addressing.Key) error {
	return t.tx.Delete(key)
}

// Append buffers an append-style write (§3 "Write set"); the core treats it
// identically to Put.
func (t *Tx) Append(key addressing.Key, v value.Value) error {
	return t.tx.Append(key, v)
}

// CAS buffers a write conditional on key's stored version currently equaling
// expectedVersion (§4.3 "cas(key, expected_version, value)").
func (t *Tx) CAS(key addressing.Key, expectedVersion uint64, v value.Value) error {
	return t.tx.CAS(key, expectedVersion, v)
}

// SnapshotVersion returns the global version this transaction's snapshot was
// taken at.
func (t *Tx) SnapshotVersion() uint64 { return t.tx.SnapshotVersion() }

// Commit validates and applies the transaction (§4.3 "commit()"), returning
// the allocated commit version on success. On conflict or CAS mismatch, the
// error is a *ConflictError or *CASMismatchError; on a WAL failure, it wraps
// ErrDurabilityFailure. The Tx is returned to its pool either way and must
// not be used again.
func (t *Tx) Commit() (uint64, error) {
	commitVersion, err := t.engine.validator.Commit(t.tx)
	if err != nil {
		wrapped := t.engine.translateCommitError(t.tx, err)
		t.engine.pool.End(t.tx)
		return 0, wrapped
	}
	t.engine.pool.End(t.tx)
	return commitVersion, nil
}

// Abort discards the transaction's read and write sets (§4.3 "abort()").
// Calling Abort on an already-committed or already-aborted Tx is a no-op.
func (t *Tx) Abort() {
	if st := t.tx.State(); st == txn.StateCommitted || st == txn.StateAborted {
		return
	}
	t.tx.Abort()
	t.engine.pool.End(t.tx)
}

// translateCommitError maps a validator-layer error onto the engine's public
// error kinds (§7), enriching CAS mismatches with the expected/actual
// versions (§8 scenario 3) that the validator itself does not carry.
func (e *Engine) translateCommitError(tx *txn.Tx, err error) error {
	var ce *validator.ConflictError
	if errors.As(err, &ce) {
		if errors.Is(ce.Err, validator.ErrCASMismatch) {
			var actual uint64
			if vv, ok := e.store.Get(ce.Key.Run, ce.Key); ok {
				actual = vv.Version
			}
			var expected uint64
			for _, exp := range tx.CASExpectations() {
				if exp.Key.Equal(ce.Key) {
					expected = exp.Expected
					break
				}
			}
			return &CASMismatchError{Key: ce.Key, Expected: expected, Actual: actual}
		}
		return &ConflictError{Key: ce.Key}
	}
	return fmt.Errorf("%w: %v", ErrDurabilityFailure, err)
}
