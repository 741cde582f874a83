// Package recovery implements the checkpoint and recovery subsystem of
// spec §4.6: a logical, per-primitive-section snapshot format, and the
// open-time sequence that loads the latest snapshot (if any) and replays
// the WAL records committed after it.
package recovery

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stratadb/strata/internal/addressing"
	"github.com/stratadb/strata/internal/codec"
	"github.com/stratadb/strata/internal/manifest"
	"github.com/stratadb/strata/internal/shardstore"
)

const (
	snapshotMagic         = "STRP"
	snapshotFormatVersion = uint8(1)
)

var snapshotNamePattern = regexp.MustCompile(`^snap-(\d{6})\.chk$`)

// CheckpointInfo describes one completed checkpoint (§4.6 step 6).
type CheckpointInfo struct {
	Watermark       uint64
	SnapshotID      uint32
	TimestampMicros int64
}

// SnapshotPath returns the path a snapshot numbered id would live at
// within dir (`snap-NNNNNN.chk`, §4.6 step 4).
func SnapshotPath(dir string, id uint32) string {
	return filepath.Join(dir, fmt.Sprintf("snap-%06d.chk", id))
}

// ListSnapshots returns every snapshot id present in dir, ascending.
func ListSnapshots(dir string) ([]uint32, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("recovery: list snapshots: %w", err)
	}
	var out []uint32
	for _, e := range entries {
		m := snapshotNamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.ParseUint(m[1], 10, 32)
		if err != nil {
			continue
		}
		out = append(out, uint32(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// CleanTempFiles removes any leftover `.snap-*.tmp` files in dir (§4.6
// step 5) — left behind only when a prior checkpoint crashed between
// writing the temp file and renaming it into place.
func CleanTempFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("recovery: list directory for cleanup: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if len(name) > 5 && name[len(name)-4:] == ".tmp" {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return fmt.Errorf("recovery: remove stale temp file %s: %w", name, err)
			}
		}
	}
	return nil
}

// Checkpointer builds snapshots from a live Store and records them in a
// Manifest (§4.6 "Checkpoint operation").
type Checkpointer struct {
	Dir        string
	DatabaseID uuid.UUID
	Codec      codec.Codec
	Store      *shardstore.Store
	Manifest   *manifest.Manifest
}

// Checkpoint performs one full checkpoint: watermark capture, per-section
// serialization (fanned out across goroutines, one per primitive tag),
// temp-file write, fsync, directory fsync, atomic rename, and the
// Manifest's final (snapshot_id, watermark) update.
func (c *Checkpointer) Checkpoint(ctx context.Context) (CheckpointInfo, error) {
	codecImpl := c.Codec
	if codecImpl == nil {
		codecImpl = codec.Identity
	}

	watermark := c.Store.CurrentVersion()
	buckets := bucketByTag(c.Store)

	sections := make([][]byte, len(sectionTagOrder))
	g, _ := errgroup.WithContext(ctx)
	for i, tag := range sectionTagOrder {
		i, tag := i, tag
		g.Go(func() error {
			enc, err := encodeSection(buckets[tag], codecImpl)
			if err != nil {
				return fmt.Errorf("recovery: encode section %d: %w", tag, err)
			}
			sections[i] = enc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return CheckpointInfo{}, err
	}

	existing, err := ListSnapshots(c.Dir)
	if err != nil {
		return CheckpointInfo{}, err
	}
	nextID := uint32(0)
	if len(existing) > 0 {
		nextID = existing[len(existing)-1] + 1
	}
	timestampMicros := time.Now().UnixMicro()

	// Header layout per §3 "Snapshot file": format version, snapshot id,
	// watermark txn id, creation time, database uuid, codec id.
	buf := []byte(snapshotMagic)
	buf = append(buf, snapshotFormatVersion)
	buf = appendU32(buf, nextID)
	buf = appendU64(buf, watermark)
	buf = appendU64(buf, uint64(timestampMicros))
	buf = append(buf, c.DatabaseID[:]...)
	buf = appendU16(buf, uint16(len(codecImpl.ID())))
	buf = append(buf, codecImpl.ID()...)
	buf = append(buf, byte(len(sectionTagOrder)))
	for i, tag := range sectionTagOrder {
		buf = append(buf, byte(tag))
		buf = appendU32(buf, uint32(len(sections[i])))
		buf = append(buf, sections[i]...)
	}
	crc := crc32.ChecksumIEEE(buf)
	buf = appendU32(buf, crc)

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return CheckpointInfo{}, fmt.Errorf("recovery: create snapshot directory: %w", err)
	}
	finalPath := SnapshotPath(c.Dir, nextID)
	tmpPath := filepath.Join(c.Dir, fmt.Sprintf(".snap-%06d.tmp", nextID))

	f, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return CheckpointInfo{}, fmt.Errorf("recovery: create temp snapshot: %w", err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return CheckpointInfo{}, fmt.Errorf("recovery: write temp snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return CheckpointInfo{}, fmt.Errorf("recovery: fsync temp snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return CheckpointInfo{}, fmt.Errorf("recovery: close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return CheckpointInfo{}, fmt.Errorf("recovery: rename snapshot into place: %w", err)
	}

	dirFile, err := os.Open(c.Dir)
	if err != nil {
		return CheckpointInfo{}, fmt.Errorf("recovery: open snapshot directory for fsync: %w", err)
	}
	syncErr := dirFile.Sync()
	dirFile.Close()
	if syncErr != nil {
		return CheckpointInfo{}, fmt.Errorf("recovery: fsync snapshot directory: %w", syncErr)
	}

	if err := c.Manifest.SetSnapshot(nextID, watermark); err != nil {
		return CheckpointInfo{}, fmt.Errorf("recovery: record snapshot in manifest: %w", err)
	}

	return CheckpointInfo{Watermark: watermark, SnapshotID: nextID, TimestampMicros: timestampMicros}, nil
}

// loadedSnapshot is a fully-parsed snapshot file, ready to apply to a Store.
type loadedSnapshot struct {
	SnapshotID      uint32
	Watermark       uint64
	TimestampMicros int64
	CodecID         string
	ByTag           map[addressing.TypeTag][]runEntry
}

// loadSnapshot reads and validates the snapshot file at dir/snap-NNNNNN.chk
// (§4.6 step 2: "validate header magic and codec id").
func loadSnapshot(dir string, id uint32, dbID uuid.UUID, c codec.Codec) (*loadedSnapshot, error) {
	if c == nil {
		c = codec.Identity
	}
	raw, err := os.ReadFile(SnapshotPath(dir, id))
	if err != nil {
		return nil, fmt.Errorf("recovery: read snapshot %d: %w", id, err)
	}
	if len(raw) < 4 {
		return nil, fmt.Errorf("recovery: snapshot %d: file too short", id)
	}
	crcOffset := len(raw) - 4
	wantCRC := binary.LittleEndian.Uint32(raw[crcOffset:])
	gotCRC := crc32.ChecksumIEEE(raw[:crcOffset])
	if gotCRC != wantCRC {
		return nil, fmt.Errorf("recovery: snapshot %d: checksum mismatch", id)
	}

	body := raw[:crcOffset]
	if len(body) < 4 {
		return nil, fmt.Errorf("recovery: snapshot %d: truncated header", id)
	}
	if !bytes.Equal(body[:4], []byte(snapshotMagic)) {
		return nil, fmt.Errorf("recovery: snapshot %d: bad magic", id)
	}
	body = body[4:]

	if len(body) < 1 {
		return nil, fmt.Errorf("recovery: snapshot %d: truncated format version", id)
	}
	if body[0] != snapshotFormatVersion {
		return nil, fmt.Errorf("recovery: snapshot %d: unsupported format version %d", id, body[0])
	}
	body = body[1:]

	if len(body) < 4 {
		return nil, fmt.Errorf("recovery: snapshot %d: truncated snapshot id", id)
	}
	gotSnapshotID := binary.LittleEndian.Uint32(body[:4])
	if gotSnapshotID != id {
		return nil, fmt.Errorf("recovery: snapshot %d: header claims snapshot %d", id, gotSnapshotID)
	}
	body = body[4:]

	if len(body) < 8 {
		return nil, fmt.Errorf("recovery: snapshot %d: truncated watermark", id)
	}
	watermark := binary.LittleEndian.Uint64(body[:8])
	body = body[8:]

	if len(body) < 8 {
		return nil, fmt.Errorf("recovery: snapshot %d: truncated creation time", id)
	}
	timestampMicros := int64(binary.LittleEndian.Uint64(body[:8]))
	body = body[8:]

	if len(body) < 16 {
		return nil, fmt.Errorf("recovery: snapshot %d: truncated database id", id)
	}
	var gotID uuid.UUID
	copy(gotID[:], body[:16])
	if dbID != uuid.Nil && gotID != dbID {
		return nil, fmt.Errorf("recovery: snapshot %d: database uuid mismatch", id)
	}
	body = body[16:]

	if len(body) < 2 {
		return nil, fmt.Errorf("recovery: snapshot %d: truncated codec id length", id)
	}
	codecLen := int(binary.LittleEndian.Uint16(body[:2]))
	body = body[2:]
	if len(body) < codecLen {
		return nil, fmt.Errorf("recovery: snapshot %d: truncated codec id", id)
	}
	codecID := string(body[:codecLen])
	body = body[codecLen:]
	if c.ID() != codecID {
		return nil, fmt.Errorf("recovery: snapshot %d: codec mismatch: configured %q, snapshot was written with %q", id, c.ID(), codecID)
	}

	if len(body) < 1 {
		return nil, fmt.Errorf("recovery: snapshot %d: truncated section count", id)
	}
	sectionCount := int(body[0])
	body = body[1:]

	byTag := make(map[addressing.TypeTag][]runEntry, sectionCount)
	for i := 0; i < sectionCount; i++ {
		if len(body) < 1+4 {
			return nil, fmt.Errorf("recovery: snapshot %d: truncated section header", id)
		}
		tag := addressing.TypeTag(body[0])
		body = body[1:]
		length := binary.LittleEndian.Uint32(body[:4])
		body = body[4:]
		if uint32(len(body)) < length {
			return nil, fmt.Errorf("recovery: snapshot %d: truncated section body", id)
		}
		section := body[:length]
		body = body[length:]

		entries, err := decodeSection(section, c)
		if err != nil {
			return nil, fmt.Errorf("recovery: snapshot %d: section %d: %w", id, tag, err)
		}
		byTag[tag] = entries
	}

	return &loadedSnapshot{
		SnapshotID:      gotSnapshotID,
		Watermark:       watermark,
		TimestampMicros: timestampMicros,
		CodecID:         codecID,
		ByTag:           byTag,
	}, nil
}
