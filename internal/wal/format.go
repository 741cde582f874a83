// Package wal implements the write-ahead log and durability policy of spec
// §4.5: segmented append-only files, self-delimiting CRC32-checked records,
// and the InMemory/Buffered/Strict durability policies. Every record's
// value bytes pass through the codec seam (internal/codec) before they
// reach disk, so a future encryption codec slots in without a format
// change.
package wal

import (
	"encoding/binary"
	"fmt"
)

// segmentMagic opens every segment file header (§4.5 "magic STRA").
var segmentMagic = [4]byte{'S', 'T', 'R', 'A'}

// formatVersion is both the segment header's format version and the
// per-record format version; a single number versions the whole on-disk
// shape rather than each piece independently, since they have always
// changed together so far.
const formatVersion uint8 = 1

// segmentHeaderSize is the fixed size of a segment's leading header:
// magic(4) + format_version(1) + segment_number(4) + database_uuid(16),
// padded to a round 32 bytes (§4.5 "32-byte header").
const segmentHeaderSize = 32

// recordFixedOverhead is the number of bytes in a record outside its
// payload: length(4) + format_version(1) + crc32(4).
const recordFixedOverhead = 4 + 1 + 4

// payloadFixedOverhead is the number of bytes in a record's payload outside
// the writeset: txn_id(8) + run_id(16) + timestamp(8).
const payloadFixedOverhead = 8 + 16 + 8

// mutationTag identifies which kind of mutation a serialized writeset entry
// carries (§4.5 "Writeset serialization").
type mutationTag byte

const (
	tagPut    mutationTag = 0x01
	tagDelete mutationTag = 0x02
	tagAppend mutationTag = 0x03
)

func writeU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func writeU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func readU32(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("wal: short read for u32")
	}
	return binary.LittleEndian.Uint32(b), nil
}

func readU64(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("wal: short read for u64")
	}
	return binary.LittleEndian.Uint64(b), nil
}
