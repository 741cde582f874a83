package wal

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/stratadb/strata/internal/addressing"
	"github.com/stratadb/strata/internal/codec"
)

// ErrCorrupt is returned by Reader.Next when a record's checksum does not
// match, or the segment ends mid-record (§4.6 recovery step 4: "stop replay
// at that point").
var ErrCorrupt = errors.New("wal: corrupt or truncated record")

var segmentNamePattern = regexp.MustCompile(`^wal-(\d{6})\.seg$`)

// ListSegments returns every segment number present in dir, ascending.
func ListSegments(dir string) ([]uint32, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wal: list segments: %w", err)
	}

	var out []uint32
	for _, e := range entries {
		m := segmentNamePattern.FindStringSubmatch(e.Name())
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

// Record is one decoded WAL entry, ready to apply to the store.
type Record struct {
	TxnID           uint64
	Run             addressing.RunID
	TimestampMicros int64
	Mutations       []decodedMutation
}

// Reader sequentially parses records out of one segment file.
type Reader struct {
	f             *os.File
	codec         codec.Codec
	segmentNumber uint32
	offset        int64 // byte offset of the next record to read, for truncation
}

// OpenSegmentForRead opens segment n in dir for sequential reading,
// validating its header (§4.6 recovery step 1 analog for WAL segments: the
// same magic/version/database-uuid checks the Manifest load performs).
func OpenSegmentForRead(dir string, n uint32, dbID uuid.UUID, c codec.Codec) (*Reader, error) {
	if c == nil {
		c = codec.Identity
	}
	path := SegmentPath(dir, n)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wal: open segment %d: %w", n, err)
	}

	header := make([]byte, segmentHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: segment %d header: %v", ErrCorrupt, n, err)
	}
	if !bytes.Equal(header[:4], segmentMagic[:]) {
		f.Close()
		return nil, fmt.Errorf("wal: segment %d: bad magic", n)
	}
	gotVersion := header[4]
	if gotVersion != formatVersion {
		f.Close()
		return nil, fmt.Errorf("wal: segment %d: unsupported format version %d", n, gotVersion)
	}
	gotNumber, err := readU32(header[5:9])
	if err != nil {
		f.Close()
		return nil, err
	}
	if gotNumber != n {
		f.Close()
		return nil, fmt.Errorf("wal: segment %d: header claims segment %d", n, gotNumber)
	}
	var gotID uuid.UUID
	copy(gotID[:], header[9:25])
	if dbID != uuid.Nil && gotID != dbID {
		f.Close()
		return nil, fmt.Errorf("wal: segment %d: database uuid mismatch", n)
	}

	return &Reader{f: f, codec: c, segmentNumber: n, offset: segmentHeaderSize}, nil
}

// Offset returns the byte offset of the next record to be read — the point
// recovery truncates the active segment to when Next reports ErrCorrupt.
func (r *Reader) Offset() int64 { return r.offset }

// Next reads and decodes the next record. It returns io.EOF when the
// segment ends cleanly on a record boundary, and ErrCorrupt when the
// segment ends mid-record or a checksum fails — in both corrupt cases
// r.Offset() still reports the last valid boundary.
func (r *Reader) Next() (*Record, error) {
	lengthBuf := make([]byte, 4)
	n, err := io.ReadFull(r.f, lengthBuf)
	if err == io.EOF && n == 0 {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("%w: record length: %v", ErrCorrupt, err)
	}
	length, err := readU32(lengthBuf)
	if err != nil {
		return nil, err
	}

	rest := make([]byte, 1+int(length)+4) // format_version + payload + crc32
	if _, err := io.ReadFull(r.f, rest); err != nil {
		return nil, fmt.Errorf("%w: record body: %v", ErrCorrupt, err)
	}

	full := append(lengthBuf, rest...)
	crcOffset := len(full) - 4
	wantCRC, err := readU32(full[crcOffset:])
	if err != nil {
		return nil, err
	}
	gotCRC := crc32.ChecksumIEEE(full[:crcOffset])
	if gotCRC != wantCRC {
		return nil, fmt.Errorf("%w: checksum mismatch in segment %d", ErrCorrupt, r.segmentNumber)
	}

	payload := full[5:crcOffset]
	rec, err := decodeRecordPayload(payload, r.codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	r.offset += int64(len(full))
	return rec, nil
}

func decodeRecordPayload(payload []byte, c codec.Codec) (*Record, error) {
	if len(payload) < payloadFixedOverhead {
		return nil, fmt.Errorf("payload too short")
	}
	txnID, err := readU64(payload[0:8])
	if err != nil {
		return nil, err
	}
	run, err := addressing.RunIDFromBytes(payload[8:24])
	if err != nil {
		return nil, err
	}
	ts, err := readU64(payload[24:32])
	if err != nil {
		return nil, err
	}
	mutations, err := decodeWriteSet(payload[32:], c)
	if err != nil {
		return nil, err
	}
	return &Record{
		TxnID:           txnID,
		Run:             run,
		TimestampMicros: int64(ts),
		Mutations:       mutations,
	}, nil
}

// Close closes the underlying segment file.
func (r *Reader) Close() error { return r.f.Close() }

// TruncateTo truncates the segment file at dir/wal-NNNNNN.seg to offset
// bytes and fsyncs it (§4.6 recovery step 4: "truncate the active segment
// to the last valid record boundary (fsync after truncate)").
func TruncateTo(dir string, n uint32, offset int64) error {
	path := SegmentPath(dir, n)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open segment %d for truncation: %w", n, err)
	}
	defer f.Close()

	if err := f.Truncate(offset); err != nil {
		return fmt.Errorf("wal: truncate segment %d: %w", n, err)
	}
	return f.Sync()
}
