package strata

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/stratadb/strata/internal/codec"
	"github.com/stratadb/strata/internal/wal"
)

// CompactMode selects how aggressively compact() reclaims space (§4.8,
// §6 "compact(mode)").
type CompactMode byte

const (
	// CompactWALOnly removes WAL segments whose every record is already
	// covered by the latest snapshot's watermark. Safe to run at any time;
	// never touches the snapshot directory.
	CompactWALOnly CompactMode = iota

	// CompactFull performs everything CompactWALOnly does. §4.2/§9 establish
	// that the store never retains more than one version per key, so there
	// is no historical-version backlog for a "full" pass to additionally
	// reclaim in this core — see DESIGN.md's resolution of the corresponding
	// Open Question.
	CompactFull
)

func (m CompactMode) String() string {
	if m == CompactFull {
		return "full"
	}
	return "wal-only"
}

// CompactInfo reports what one compact() call reclaimed (§6 "compact(mode)").
type CompactInfo struct {
	ReclaimedBytes  int64
	SegmentsRemoved int
	VersionsRemoved int
}

// Compact reclaims WAL segments made obsolete by the most recent checkpoint
// (§4.8). Only one compaction may run against an Engine at a time; a
// concurrent call returns ErrCompactionInProgress.
func (e *Engine) Compact(mode CompactMode) (CompactInfo, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return CompactInfo{}, ErrEngineClosed
	}
	e.mu.RUnlock()

	if !e.compacting.CompareAndSwap(false, true) {
		return CompactInfo{}, ErrCompactionInProgress
	}
	defer e.compacting.Store(false)

	_, watermark, hasSnapshot := e.manifest.SnapshotInfo()
	if !hasSnapshot {
		return CompactInfo{}, nil
	}

	walDir := e.walDir()
	segments, err := wal.ListSegments(walDir)
	if err != nil {
		return CompactInfo{}, fmt.Errorf("strata: compact: list wal segments: %w", err)
	}
	if len(segments) == 0 {
		return CompactInfo{}, nil
	}
	activeSegment := segments[len(segments)-1]

	var info CompactInfo
	for _, seg := range segments {
		if seg == activeSegment {
			continue
		}
		maxTxnID, ok := maxTxnIDInSegment(walDir, seg, e.manifest.DatabaseID(), e.codecImpl)
		if !ok {
			continue // could not prove this segment is redundant; leave it
		}
		if maxTxnID > watermark {
			continue // still needed: some of its commits postdate the snapshot
		}

		path := wal.SegmentPath(walDir, seg)
		fi, statErr := os.Stat(path)
		if statErr != nil {
			return CompactInfo{}, fmt.Errorf("strata: compact: stat segment %d: %w", seg, statErr)
		}
		if err := os.Remove(path); err != nil {
			return CompactInfo{}, fmt.Errorf("strata: compact: remove segment %d: %w", seg, err)
		}
		info.ReclaimedBytes += fi.Size()
		info.SegmentsRemoved++
	}

	// CompactFull has nothing further to reclaim: the store holds exactly one
	// version per key, so VersionsRemoved is always 0 (§4.2, §9).

	e.historyMu.Lock()
	e.lastCompaction = &info
	e.historyMu.Unlock()

	e.logger.Info().
		Str("mode", mode.String()).
		Int64("reclaimed_bytes", info.ReclaimedBytes).
		Int("segments_removed", info.SegmentsRemoved).
		Msg("compaction complete")

	return info, nil
}

// ShouldCompact is a heuristic helper (not part of §6's operation table)
// suggesting when a caller's background janitor should invoke Compact: once
// the on-disk WAL has grown past the size of the last snapshot, the WAL is
// doing more work holding stale history than the snapshot would cost to
// replace it.
func (e *Engine) ShouldCompact() bool {
	walBytes := e.totalWALBytes()
	snap, _, hasSnapshot := e.manifest.SnapshotInfo()
	if !hasSnapshot {
		return walBytes > 0
	}
	return walBytes > e.snapshotFileSize(snap)
}

func (e *Engine) walDir() string {
	return filepath.Join(e.path, walDirName)
}

func (e *Engine) totalWALBytes() int64 {
	segments, err := wal.ListSegments(e.walDir())
	if err != nil {
		return 0
	}
	var total int64
	for _, seg := range segments {
		fi, err := os.Stat(wal.SegmentPath(e.walDir(), seg))
		if err != nil {
			continue
		}
		total += fi.Size()
	}
	return total
}

// maxTxnIDInSegment scans segment seg end to end and returns the highest
// TxnID of any record it contains. ok is false if the segment could not be
// read cleanly to the end — compact must never remove a segment it can't
// prove is redundant.
func maxTxnIDInSegment(dir string, seg uint32, dbID uuid.UUID, c codec.Codec) (maxTxnID uint64, ok bool) {
	r, err := wal.OpenSegmentForRead(dir, seg, dbID, c)
	if err != nil {
		return 0, false
	}
	defer r.Close()

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return maxTxnID, true
		}
		if err != nil {
			return 0, false
		}
		if rec.TxnID > maxTxnID {
			maxTxnID = rec.TxnID
		}
	}
}
