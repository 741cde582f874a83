package recovery

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/stratadb/strata/internal/addressing"
	"github.com/stratadb/strata/internal/codec"
	"github.com/stratadb/strata/internal/manifest"
	"github.com/stratadb/strata/internal/shardstore"
	"github.com/stratadb/strata/internal/value"
	"github.com/stratadb/strata/internal/wal"
)

// Summary reports what recovery did, for the open-time log line and for
// tests that want to assert on replay behavior without peeking at the
// store directly.
type Summary struct {
	LoadedSnapshot   bool
	SnapshotID       uint32
	Watermark        uint64
	RecordsReplayed  int
	RecordsSkipped   int
	TruncatedSegment *uint32 // nil unless replay stopped on corruption
}

// Config describes where and how to recover a database (§4.6 "Recovery").
type Config struct {
	WALDir      string
	SnapshotDir string
	DatabaseID  uuid.UUID
	Codec       codec.Codec
	Manifest    *manifest.Manifest
	Store       *shardstore.Store
}

// Recover runs the open-time sequence of §4.6: load the snapshot (if any),
// then replay WAL segments committed after its watermark, stopping and
// truncating only the active segment if corruption is found.
func Recover(cfg Config) (Summary, error) {
	c := cfg.Codec
	if c == nil {
		c = codec.Identity
	}

	var summary Summary
	watermark := uint64(0)

	if snapshotID, wm, ok := cfg.Manifest.SnapshotInfo(); ok {
		snap, err := loadSnapshot(cfg.SnapshotDir, snapshotID, cfg.DatabaseID, c)
		if err != nil {
			return Summary{}, fmt.Errorf("recovery: load snapshot %d: %w", snapshotID, err)
		}
		applySnapshot(cfg.Store, snap)
		cfg.Store.BumpVersionSeen(snap.Watermark)

		watermark = wm
		summary.LoadedSnapshot = true
		summary.SnapshotID = snapshotID
		summary.Watermark = wm
	}

	segments, err := wal.ListSegments(cfg.WALDir)
	if err != nil {
		return Summary{}, fmt.Errorf("recovery: list WAL segments: %w", err)
	}

	for idx, segNum := range segments {
		isActive := idx == len(segments)-1
		stopped, err := replaySegment(cfg, segNum, isActive, c, watermark, &summary)
		if err != nil {
			return Summary{}, fmt.Errorf("recovery: replay segment %d: %w", segNum, err)
		}
		if stopped {
			if !isActive {
				return Summary{}, fmt.Errorf("recovery: segment %d is corrupt but is not the active segment; refusing to truncate historical WAL", segNum)
			}
			n := segNum
			summary.TruncatedSegment = &n
			break
		}
	}

	if err := CleanTempFiles(cfg.SnapshotDir); err != nil {
		return Summary{}, err
	}

	return summary, nil
}

// applySnapshot installs every entry from a loaded snapshot into store,
// preserving each entry's original version and timestamp (§4.6 invariant
// "Version preservation"). Entries are grouped by Run so each
// ApplyPreserving call takes exactly one shard lock, mirroring how the
// Validator applies one Run's writeset at a time during normal operation.
func applySnapshot(store *shardstore.Store, snap *loadedSnapshot) {
	grouped := make(map[addressing.RunID][]shardstore.PreservedEntry)
	for _, entries := range snap.ByTag {
		for _, e := range entries {
			grouped[e.Run] = append(grouped[e.Run], shardstore.PreservedEntry{
				Key:   e.Key,
				Value: e.Value,
			})
		}
	}
	for run, entries := range grouped {
		store.ApplyPreserving(run, entries)
	}
}

// replaySegment parses and applies every record in segment segNum whose
// TxnID is above watermark, returning stopped=true if corruption was
// encountered. Only the active segment is truncated to its last valid
// record boundary; a corrupt earlier segment is left untouched and the
// caller reports it as an error.
func replaySegment(cfg Config, segNum uint32, isActive bool, c codec.Codec, watermark uint64, summary *Summary) (stopped bool, err error) {
	r, err := wal.OpenSegmentForRead(cfg.WALDir, segNum, cfg.DatabaseID, c)
	if err != nil {
		return false, err
	}
	defer r.Close()

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			if errors.Is(err, wal.ErrCorrupt) {
				if !isActive {
					return true, nil
				}
				return true, wal.TruncateTo(cfg.WALDir, segNum, r.Offset())
			}
			return false, err
		}

		if rec.TxnID <= watermark {
			summary.RecordsSkipped++
			continue
		}

		entries := make([]shardstore.PreservedEntry, 0, len(rec.Mutations))
		for _, m := range rec.Mutations {
			entries = append(entries, shardstore.PreservedEntry{
				Key: m.Key,
				Value: value.VersionedValue{
					Value:     m.Value,
					Version:   rec.TxnID,
					Timestamp: rec.TimestampMicros,
				},
				Tombstone: m.Op == shardstore.OpDelete,
			})
		}
		cfg.Store.ApplyPreserving(rec.Run, entries)
		cfg.Store.BumpVersionSeen(rec.TxnID)
		summary.RecordsReplayed++
	}
}
