// Package addressing implements the key and Run-identifier types that every
// other component of the engine addresses state by. Runs are the engine's
// isolation domain (spec §3 "Run identifier"); keys are a structured triple
// of namespace, primitive type tag, and user bytes.
package addressing

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// RunID is a 128-bit opaque identifier naming one agent execution. It is the
// primary sharding dimension for the store (§4.1): every key belongs to
// exactly one Run, by construction of the namespace prefix.
type RunID uuid.UUID

// NewRunID generates a fresh, random Run identifier.
func NewRunID() RunID {
	return RunID(uuid.New())
}

// ParseRunID parses the canonical string form of a Run identifier.
func ParseRunID(s string) (RunID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return RunID{}, fmt.Errorf("parse run id %q: %w", s, err)
	}
	return RunID(id), nil
}

// RunIDFromBytes reconstructs a RunID from its 16 raw bytes, as stored in a
// WAL record's `run_id:16` field (§4.5). b must be exactly 16 bytes long.
func RunIDFromBytes(b []byte) (RunID, error) {
	if len(b) != 16 {
		return RunID{}, fmt.Errorf("run id: expected 16 bytes, got %d", len(b))
	}
	var r RunID
	copy(r[:], b)
	return r, nil
}

// String returns the canonical 8-4-4-4-12 hex representation.
func (r RunID) String() string {
	return uuid.UUID(r).String()
}

// Bytes returns the 16 raw bytes of the identifier, suitable for embedding
// in a WAL record (§4.5 payload layout `run_id:16`) or a shard hash.
func (r RunID) Bytes() []byte {
	b := make([]byte, 16)
	copy(b, r[:])
	return b
}

// IsZero reports whether r is the zero-value Run identifier.
func (r RunID) IsZero() bool {
	return r == RunID{}
}

// Hash computes a fast, allocation-free, non-cryptographic hash of r — used
// on the commit hot path to pick an outer shard (internal/shardstore) without
// paying for a Bytes() allocation.
func (r RunID) Hash() uint64 {
	return xxhash.Sum64(r[:])
}
