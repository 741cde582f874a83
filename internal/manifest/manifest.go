// Package manifest implements the tiny physical metadata file spec §4.7
// describes: format version, database uuid, codec id, the active WAL
// segment number, and an optional (snapshot id, watermark txn) pair.
// Persisted via write-temp, fsync, rename, fsync-directory, with a CRC32
// at the tail. Deliberately resists field growth — semantic policy belongs
// in the data layer, not here.
package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

const (
	magic         = "STRM"
	formatVersion = uint8(1)
)

// Manifest is the in-memory, mutex-guarded handle to the on-disk manifest
// file. Every mutator persists immediately and fsyncs, so a Manifest never
// holds state the file on disk doesn't already reflect.
type Manifest struct {
	mu   sync.Mutex
	path string

	databaseID    uuid.UUID
	codecID       string
	activeSegment uint32
	hasSnapshot   bool
	snapshotID    uint32
	watermarkTxn  uint64
}

// New constructs a fresh Manifest for a new database, not yet persisted —
// callers must call Save once before relying on it existing on disk.
func New(path string, databaseID uuid.UUID, codecID string) *Manifest {
	return &Manifest{
		path:       path,
		databaseID: databaseID,
		codecID:    codecID,
	}
}

// Open loads an existing manifest file, validating its magic and CRC32
// tail (§4.6 recovery step 1: "Load the Manifest. Validate magic, CRC,
// codec id").
func Open(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	return decode(path, raw)
}

func decode(path string, raw []byte) (*Manifest, error) {
	if len(raw) < len(magic)+1+16+4 {
		return nil, fmt.Errorf("manifest: file too short")
	}
	if !bytes.Equal(raw[:4], []byte(magic)) {
		return nil, fmt.Errorf("manifest: bad magic")
	}
	crcOffset := len(raw) - 4
	wantCRC := binary.LittleEndian.Uint32(raw[crcOffset:])
	gotCRC := crc32.ChecksumIEEE(raw[:crcOffset])
	if gotCRC != wantCRC {
		return nil, fmt.Errorf("manifest: checksum mismatch")
	}

	body := raw[4:crcOffset]
	if len(body) < 1+16 {
		return nil, fmt.Errorf("manifest: truncated body")
	}
	version := body[0]
	if version != formatVersion {
		return nil, fmt.Errorf("manifest: unsupported format version %d", version)
	}
	body = body[1:]

	var dbID uuid.UUID
	copy(dbID[:], body[:16])
	body = body[16:]

	if len(body) < 2 {
		return nil, fmt.Errorf("manifest: truncated codec id length")
	}
	codecLen := int(binary.LittleEndian.Uint16(body[:2]))
	body = body[2:]
	if len(body) < codecLen {
		return nil, fmt.Errorf("manifest: truncated codec id")
	}
	codecID := string(body[:codecLen])
	body = body[codecLen:]

	if len(body) < 4 {
		return nil, fmt.Errorf("manifest: truncated active segment")
	}
	activeSegment := binary.LittleEndian.Uint32(body[:4])
	body = body[4:]

	if len(body) < 1 {
		return nil, fmt.Errorf("manifest: truncated snapshot flag")
	}
	hasSnapshot := body[0] != 0
	body = body[1:]

	if len(body) < 4+8 {
		return nil, fmt.Errorf("manifest: truncated snapshot fields")
	}
	snapshotID := binary.LittleEndian.Uint32(body[:4])
	watermarkTxn := binary.LittleEndian.Uint64(body[4:12])

	return &Manifest{
		path:          path,
		databaseID:    dbID,
		codecID:       codecID,
		activeSegment: activeSegment,
		hasSnapshot:   hasSnapshot,
		snapshotID:    snapshotID,
		watermarkTxn:  watermarkTxn,
	}, nil
}

func (m *Manifest) encodeLocked() []byte {
	buf := []byte(magic)
	buf = append(buf, formatVersion)
	buf = append(buf, m.databaseID[:]...)

	var codecLen [2]byte
	binary.LittleEndian.PutUint16(codecLen[:], uint16(len(m.codecID)))
	buf = append(buf, codecLen[:]...)
	buf = append(buf, m.codecID...)

	var seg [4]byte
	binary.LittleEndian.PutUint32(seg[:], m.activeSegment)
	buf = append(buf, seg[:]...)

	if m.hasSnapshot {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	var snapID [4]byte
	binary.LittleEndian.PutUint32(snapID[:], m.snapshotID)
	buf = append(buf, snapID[:]...)
	var watermark [8]byte
	binary.LittleEndian.PutUint64(watermark[:], m.watermarkTxn)
	buf = append(buf, watermark[:]...)

	crc := crc32.ChecksumIEEE(buf)
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc)
	return append(buf, crcBuf[:]...)
}

// Save persists the manifest's current state: write-temp, fsync, rename,
// fsync-directory (§4.7).
func (m *Manifest) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manifest) saveLocked() error {
	data := m.encodeLocked()
	dir := filepath.Dir(m.path)
	tmpPath := m.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("manifest: create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("manifest: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("manifest: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("manifest: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		return fmt.Errorf("manifest: rename into place: %w", err)
	}

	dirFile, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("manifest: open directory for fsync: %w", err)
	}
	defer dirFile.Close()
	if err := dirFile.Sync(); err != nil {
		return fmt.Errorf("manifest: fsync directory: %w", err)
	}
	return nil
}

// DatabaseID returns the manifest's database identifier.
func (m *Manifest) DatabaseID() uuid.UUID { return m.databaseID }

// CodecID returns the id of the codec this database was created with.
func (m *Manifest) CodecID() string { return m.codecID }

// ActiveSegment returns the currently-active WAL segment number.
func (m *Manifest) ActiveSegment() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeSegment
}

// SetActiveSegment updates and persists the active segment number,
// implementing wal.SegmentTracker so a Writer's rotation updates the
// Manifest atomically (§4.5 "Rotation").
func (m *Manifest) SetActiveSegment(segmentNumber uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeSegment = segmentNumber
	return m.saveLocked()
}

// SnapshotInfo returns the manifest's recorded (snapshot id, watermark
// transaction), and whether a snapshot has ever been recorded.
func (m *Manifest) SnapshotInfo() (snapshotID uint32, watermarkTxn uint64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotID, m.watermarkTxn, m.hasSnapshot
}

// SetSnapshot records and persists a new (snapshot id, watermark
// transaction) pair, done atomically as the last step of checkpoint (§4.6
// step 5).
func (m *Manifest) SetSnapshot(snapshotID uint32, watermarkTxn uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasSnapshot = true
	m.snapshotID = snapshotID
	m.watermarkTxn = watermarkTxn
	return m.saveLocked()
}
