package addressing

import (
	"bytes"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// TypeTag discriminates which logical primitive a Key belongs to (§3). The
// core treats every tag as an opaque small integer; semantics for each
// primitive's own key shape live in that primitive's facade, not here.
type TypeTag byte

const (
	TypeKV     TypeTag = 0x01
	TypeEvent  TypeTag = 0x02
	TypeState  TypeTag = 0x03
	TypeTrace  TypeTag = 0x04
	TypeRun    TypeTag = 0x05
	TypeJSON   TypeTag = 0x06
	TypeVector TypeTag = 0x07
)

func (t TypeTag) String() string {
	switch t {
	case TypeKV:
		return "kv"
	case TypeEvent:
		return "event"
	case TypeState:
		return "state"
	case TypeTrace:
		return "trace"
	case TypeRun:
		return "run"
	case TypeJSON:
		return "json"
	case TypeVector:
		return "vector"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Namespace is an opaque, ordered byte prefix identifying a tenant / app /
// agent scope (§3). Only the Run component of a namespace matters to the
// core's sharding decision; the rest is carried through untouched.
type Namespace []byte

// Key is the structured triple (namespace, type-tag, user-bytes) that every
// entry in the store is addressed by. Equality and ordering are lexicographic
// over the byte encoding, and Keys are hashable with a fast non-cryptographic
// hash (§3) so they can live as map keys on the commit hot path.
type Key struct {
	Run       RunID
	Namespace Namespace
	Tag       TypeTag
	UserBytes []byte
}

// New constructs a Key scoped to run.
func New(run RunID, ns Namespace, tag TypeTag, userBytes []byte) Key {
	return Key{Run: run, Namespace: ns, Tag: tag, UserBytes: userBytes}
}

// Encode renders the key into its canonical byte form:
// run(16) || len(namespace):u16 || namespace || tag(1) || user_bytes.
// This is the form used for lexicographic ordering (§3) and for the map key
// the sharded store actually indexes by (see internal/shardstore).
func (k Key) Encode() []byte {
	buf := make([]byte, 0, 16+2+len(k.Namespace)+1+len(k.UserBytes))
	buf = append(buf, k.Run.Bytes()...)
	nsLen := len(k.Namespace)
	buf = append(buf, byte(nsLen>>8), byte(nsLen))
	buf = append(buf, k.Namespace...)
	buf = append(buf, byte(k.Tag))
	buf = append(buf, k.UserBytes...)
	return buf
}

// DecodeKey parses the canonical encoding Encode produces, used by WAL
// replay and snapshot loading to reconstruct the structured Key a mutation
// or section entry addresses (§4.5, §4.6).
func DecodeKey(b []byte) (Key, error) {
	if len(b) < 16+2+1 {
		return Key{}, fmt.Errorf("key: encoded form too short (%d bytes)", len(b))
	}
	run, err := RunIDFromBytes(b[:16])
	if err != nil {
		return Key{}, err
	}
	rest := b[16:]
	nsLen := int(rest[0])<<8 | int(rest[1])
	rest = rest[2:]
	if len(rest) < nsLen+1 {
		return Key{}, fmt.Errorf("key: encoded form truncated in namespace")
	}
	ns := append(Namespace(nil), rest[:nsLen]...)
	rest = rest[nsLen:]
	tag := TypeTag(rest[0])
	userBytes := append([]byte(nil), rest[1:]...)
	return Key{Run: run, Namespace: ns, Tag: tag, UserBytes: userBytes}, nil
}

// String renders the key for logs and error messages only; it is not a
// parseable format.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%x", k.Run, k.Namespace, k.Tag, k.UserBytes)
}

// Less implements the lexicographic byte ordering required by §3, used by
// the Sharded Store's `list` operation to return results sorted.
func (k Key) Less(other Key) bool {
	return bytes.Compare(k.Encode(), other.Encode()) < 0
}

// Equal reports whether two keys address the same entry.
func (k Key) Equal(other Key) bool {
	return bytes.Equal(k.Encode(), other.Encode())
}

// MapKey returns a comparable, hashable representation of k suitable for use
// as a Go map key — Key itself contains a slice (UserBytes) and so is not
// comparable.
func (k Key) MapKey() string {
	return string(k.Encode())
}

// HasPrefix reports whether k's user bytes start with prefix, used by
// `list(run, prefix)` (§4.1) to filter a shard scan.
func (k Key) HasPrefix(prefix []byte) bool {
	return bytes.HasPrefix(k.UserBytes, prefix)
}

// Hash computes a fast, non-cryptographic hash of the key's canonical
// encoding (§3 "Keys are hashable with a fast non-cryptographic hash").
func (k Key) Hash() uint64 {
	return xxhash.Sum64(k.Encode())
}
