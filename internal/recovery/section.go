package recovery

import (
	"encoding/binary"
	"fmt"

	"github.com/stratadb/strata/internal/addressing"
	"github.com/stratadb/strata/internal/codec"
	"github.com/stratadb/strata/internal/shardstore"
	"github.com/stratadb/strata/internal/value"
)

// sectionTagOrder fixes the order primitive sections appear in a snapshot
// file (§4.6 step 2: "KV, Event, State, Trace, Run, JSON, Vector"). Each
// primitive's own internal layout is that primitive's concern — the core
// has no facades wired in, so it serializes a section as a flat,
// self-contained list of (key, version, timestamp, value) entries, generic
// enough for any primitive built on top of the same Key/Value types.
var sectionTagOrder = []addressing.TypeTag{
	addressing.TypeKV,
	addressing.TypeEvent,
	addressing.TypeState,
	addressing.TypeTrace,
	addressing.TypeRun,
	addressing.TypeJSON,
	addressing.TypeVector,
}

// runEntry pairs a section entry with the Run it belongs to — a snapshot
// section spans every Run, unlike a WAL record which is scoped to one.
type runEntry struct {
	Run   addressing.RunID
	Key   addressing.Key
	Value value.VersionedValue
}

func bucketByTag(store *shardstore.Store) map[addressing.TypeTag][]runEntry {
	buckets := make(map[addressing.TypeTag][]runEntry, len(sectionTagOrder))
	for _, run := range store.AllRuns() {
		for _, e := range store.AllEntries(run) {
			buckets[e.Key.Tag] = append(buckets[e.Key.Tag], runEntry{Run: run, Key: e.Key, Value: e.Value})
		}
	}
	return buckets
}

// encodeSection serializes entries as a count-prefixed list of
// (key_bytes, version, timestamp, value_bytes) tuples, with value bytes
// passed through c (the codec seam, §4.5/§4.6). The Run is not stored
// separately — Key.Encode() already embeds it (§3 "Key").
func encodeSection(entries []runEntry, c codec.Codec) ([]byte, error) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(entries)))

	for _, e := range entries {
		keyBytes := e.Key.Encode()
		buf = appendU32(buf, uint32(len(keyBytes)))
		buf = append(buf, keyBytes...)
		buf = appendU64(buf, e.Value.Version)
		buf = appendU64(buf, uint64(e.Value.Timestamp))

		plain, err := value.Marshal(e.Value.Value)
		if err != nil {
			return nil, err
		}
		coded, err := c.Encode(plain)
		if err != nil {
			return nil, fmt.Errorf("recovery: codec encode: %w", err)
		}
		buf = appendU32(buf, uint32(len(coded)))
		buf = append(buf, coded...)
	}
	return buf, nil
}

// decodeSection reverses encodeSection.
func decodeSection(b []byte, c codec.Codec) ([]runEntry, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("recovery: section truncated at entry count")
	}
	count := binary.LittleEndian.Uint32(b)
	rest := b[4:]

	out := make([]runEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		keyBytes, rest2, err := readU32Framed(rest)
		if err != nil {
			return nil, fmt.Errorf("recovery: section key: %w", err)
		}
		key, err := addressing.DecodeKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("recovery: section key decode: %w", err)
		}
		rest = rest2

		if len(rest) < 16 {
			return nil, fmt.Errorf("recovery: section truncated at version/timestamp")
		}
		version := binary.LittleEndian.Uint64(rest[:8])
		timestamp := binary.LittleEndian.Uint64(rest[8:16])
		rest = rest[16:]

		coded, rest3, err := readU32Framed(rest)
		if err != nil {
			return nil, fmt.Errorf("recovery: section value: %w", err)
		}
		rest = rest3

		plain, err := c.Decode(coded)
		if err != nil {
			return nil, fmt.Errorf("recovery: codec decode: %w", err)
		}
		v, _, err := value.Unmarshal(plain)
		if err != nil {
			return nil, fmt.Errorf("recovery: value decode: %w", err)
		}

		out = append(out, runEntry{
			Run: key.Run,
			Key: key,
			Value: value.VersionedValue{
				Value:     v,
				Version:   version,
				Timestamp: int64(timestamp),
			},
		})
	}
	return out, nil
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendU16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func readU32Framed(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("short read for length prefix")
	}
	n := binary.LittleEndian.Uint32(b)
	b = b[4:]
	if uint32(len(b)) < n {
		return nil, nil, fmt.Errorf("truncated length-prefixed field")
	}
	return b[:n], b[n:], nil
}
