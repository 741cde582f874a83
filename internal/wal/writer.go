package wal

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stratadb/strata/internal/addressing"
	"github.com/stratadb/strata/internal/codec"
	"github.com/stratadb/strata/internal/shardstore"
)

// SegmentTracker is notified whenever the Writer rotates to a new segment,
// so the Manifest's active segment field can be updated atomically (§4.5
// "Rotation", §4.7).
type SegmentTracker interface {
	SetActiveSegment(segmentNumber uint32) error
}

// Metrics receives observability counters from the Writer (§6 observability
// outputs: WAL bytes, fsyncs, segment rotations). A nil Metrics is valid;
// every call is a no-op guarded by a nil check.
type Metrics interface {
	AddWALBytes(n int64)
	IncFsync()
	IncSegmentRotation()
}

// Config configures a Writer.
type Config struct {
	Dir                 string
	DatabaseID          uuid.UUID
	Codec               codec.Codec
	Policy              Policy
	MaxSegmentBytes      int64
	BufferedFsyncInterval time.Duration
	BufferedFsyncBytes   int64
	Tracker              SegmentTracker
	Metrics              Metrics
}

const (
	// DefaultMaxSegmentBytes is the default segment rotation threshold
	// (§4.5 "default 64 MB").
	DefaultMaxSegmentBytes = 64 * 1024 * 1024
	// DefaultBufferedFsyncInterval is how often the Buffered policy's
	// background thread fsyncs absent a byte-threshold trigger.
	DefaultBufferedFsyncInterval = 200 * time.Millisecond
	// DefaultBufferedFsyncBytes is the accumulated-bytes threshold that
	// triggers an out-of-band fsync under the Buffered policy.
	DefaultBufferedFsyncBytes = 1 << 20 // 1 MiB
)

// Writer appends committed write-sets to the active WAL segment, enforcing
// the configured durability Policy (§4.5). It is safe for concurrent use;
// all Append calls for the whole writer are serialized, matching the
// teacher's own single-mutex WAL (internal/store/wal.go) generalized with
// segment rotation and checksums.
type Writer struct {
	mu sync.Mutex

	cfg           Config
	segmentNumber uint32
	file          *os.File
	bufw          *bufio.Writer
	segmentBytes  int64 // bytes written to the current segment, including its header

	pendingFsyncBytes int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// Open opens (creating if necessary) the WAL directory and the segment
// named startSegment for appending, writing a fresh header if the segment
// is new. If cfg.Policy is Buffered, a background flush goroutine is
// started; it must be stopped with Close.
func Open(cfg Config, startSegment uint32) (*Writer, error) {
	if cfg.Codec == nil {
		cfg.Codec = codec.Identity
	}
	if cfg.MaxSegmentBytes <= 0 {
		cfg.MaxSegmentBytes = DefaultMaxSegmentBytes
	}
	if cfg.BufferedFsyncInterval <= 0 {
		cfg.BufferedFsyncInterval = DefaultBufferedFsyncInterval
	}
	if cfg.BufferedFsyncBytes <= 0 {
		cfg.BufferedFsyncBytes = DefaultBufferedFsyncBytes
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create directory: %w", err)
	}

	w := &Writer{cfg: cfg, segmentNumber: startSegment}
	if err := w.openSegment(startSegment); err != nil {
		return nil, err
	}

	if cfg.Policy == Buffered {
		w.stopCh = make(chan struct{})
		w.doneCh = make(chan struct{})
		go w.runFlusher()
	}
	return w, nil
}

// SegmentPath returns the path a segment numbered n would live at within
// dir (`wal-NNNNNN.seg`, §4.5).
func SegmentPath(dir string, n uint32) string {
	return filepath.Join(dir, fmt.Sprintf("wal-%06d.seg", n))
}

// openSegment opens (or creates) segment n for appending. An existing file
// is opened in append mode with its header validated; a missing file is
// created and given a fresh header.
func (w *Writer) openSegment(n uint32) error {
	path := SegmentPath(w.cfg.Dir, n)

	_, err := os.Stat(path)
	switch {
	case err == nil:
		f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("wal: open segment %d: %w", n, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return fmt.Errorf("wal: stat segment %d: %w", n, err)
		}
		w.file = f
		w.bufw = bufio.NewWriter(f)
		w.segmentBytes = info.Size()
	case os.IsNotExist(err):
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("wal: create segment %d: %w", n, err)
		}
		header := buildSegmentHeader(n, w.cfg.DatabaseID)
		if _, err := f.Write(header); err != nil {
			f.Close()
			return fmt.Errorf("wal: write segment header: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("wal: sync new segment: %w", err)
		}
		w.file = f
		w.bufw = bufio.NewWriter(f)
		w.segmentBytes = int64(len(header))
	default:
		return fmt.Errorf("wal: stat segment %d: %w", n, err)
	}

	w.segmentNumber = n
	return nil
}

func buildSegmentHeader(segmentNumber uint32, dbID uuid.UUID) []byte {
	header := make([]byte, 0, segmentHeaderSize)
	header = append(header, segmentMagic[:]...)
	header = append(header, byte(formatVersion))
	header = writeU32(header, segmentNumber)
	header = append(header, dbID[:]...)
	for len(header) < segmentHeaderSize {
		header = append(header, 0)
	}
	return header
}

// Append serializes and writes a committed transaction's write-set,
// implementing validator.Durability. txnID is the transaction's allocated
// commit version (§4.5: the payload's txn_id doubles as the version, since
// the core assigns no separate transaction identity).
func (w *Writer) Append(run addressing.RunID, txnID uint64, timestampMicros int64, mutations []shardstore.Mutation) error {
	wsBytes, err := encodeWriteSet(mutations, w.cfg.Codec)
	if err != nil {
		return fmt.Errorf("wal: encode writeset: %w", err)
	}

	payload := make([]byte, 0, payloadFixedOverhead+len(wsBytes))
	payload = writeU64(payload, txnID)
	payload = append(payload, run.Bytes()...)
	payload = writeU64(payload, uint64(timestampMicros))
	payload = append(payload, wsBytes...)

	record := make([]byte, 0, recordFixedOverhead+len(payload))
	record = writeU32(record, uint32(len(payload)))
	record = append(record, byte(formatVersion))
	record = append(record, payload...)
	crc := crc32.ChecksumIEEE(record)
	record = writeU32(record, crc)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.segmentBytes+int64(len(record)) > w.cfg.MaxSegmentBytes {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := w.bufw.Write(record)
	if err != nil {
		return fmt.Errorf("wal: write record: %w", err)
	}
	w.segmentBytes += int64(n)
	w.pendingFsyncBytes += int64(n)
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.AddWALBytes(int64(n))
	}

	switch w.cfg.Policy {
	case Strict:
		if err := w.flushAndSyncLocked(); err != nil {
			return err
		}
	case Buffered:
		if err := w.bufw.Flush(); err != nil {
			return fmt.Errorf("wal: flush: %w", err)
		}
		if w.pendingFsyncBytes >= w.cfg.BufferedFsyncBytes {
			if err := w.syncLocked(); err != nil {
				return err
			}
		}
	}
	return nil
}

// rotateLocked closes the current segment (flushed and fsynced) and opens
// the next one, notifying cfg.Tracker so the Manifest's active segment
// field can be updated (§4.5 "Rotation"). Callers must hold w.mu.
func (w *Writer) rotateLocked() error {
	if err := w.flushAndSyncLocked(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal: close segment %d: %w", w.segmentNumber, err)
	}

	next := w.segmentNumber + 1
	if err := w.openSegment(next); err != nil {
		return err
	}
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.IncSegmentRotation()
	}
	if w.cfg.Tracker != nil {
		if err := w.cfg.Tracker.SetActiveSegment(next); err != nil {
			return fmt.Errorf("wal: update active segment: %w", err)
		}
	}
	return nil
}

// flushAndSyncLocked flushes the buffered writer and fsyncs the segment
// file. Callers must hold w.mu.
func (w *Writer) flushAndSyncLocked() error {
	if err := w.bufw.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	return w.syncLocked()
}

func (w *Writer) syncLocked() error {
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	w.pendingFsyncBytes = 0
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.IncFsync()
	}
	return nil
}

// runFlusher is the Buffered policy's background flush thread (§4.5): it
// fsyncs on an elapsed interval, and exits promptly when Close signals
// stopCh, so it can always be joined rather than leaked.
func (w *Writer) runFlusher() {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.cfg.BufferedFsyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.mu.Lock()
			if w.pendingFsyncBytes > 0 {
				_ = w.syncLocked()
			}
			w.mu.Unlock()
		case <-w.stopCh:
			return
		}
	}
}

// Close flushes and fsyncs the active segment, joins the background flush
// thread if one is running, and closes the segment file. A Close that
// returns without joining the flush thread would be a defect (§4.5).
func (w *Writer) Close() error {
	if w.stopCh != nil {
		close(w.stopCh)
		<-w.doneCh
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushAndSyncLocked(); err != nil {
		return err
	}
	return w.file.Close()
}

// ActiveSegment returns the segment number currently being written to.
func (w *Writer) ActiveSegment() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segmentNumber
}
