// Package shardstore implements the authoritative in-memory state (spec
// §4.1): a map keyed by Run identifier, each entry a single-writer-locked
// hash map from Key to VersionedValue. Reads take a shared lock and writes
// an exclusive lock on the Run's own map only, so different Runs do not
// contend. Atomicity is per Run: a write-set is applied under its Run's
// lock, and writes to different Runs are not atomic together.
//
// Sharding is by Run identifier, not by key (§4.1 "Key distribution"):
// disjoint Runs scale linearly up to the shard count, and hot-Run workloads
// serialize on that Run's lock by design — agent workloads partition
// naturally by Run.
package shardstore

import (
	"sync"

	"github.com/stratadb/strata/internal/addressing"
	"github.com/stratadb/strata/internal/value"
)

// shardCount is the number of outer shards the Run keyspace is hashed over.
// ~16 ways is typical per §4.1; kept a power of two for a cheap mask instead
// of a modulo on the hot path.
const shardCount = 16

// runShard is one outer shard: it maps the Runs that hash to it to their
// runData, and its lock guards only inserting and looking up Runs. Runs map
// to exactly one runShard via shardOf.
type runShard struct {
	mu   sync.RWMutex
	runs map[addressing.RunID]*runData
}

// record pairs a structured Key with its versioned value so that List can
// reconstruct and filter by the original key, even though the map itself is
// indexed by the key's encoded byte form for O(1) lookup.
type record struct {
	key   addressing.Key
	value value.VersionedValue
}

// runData is the per-Run hash map of keys to versioned values. It is only
// ever mutated while holding its own mu exclusively — see Store.Put,
// Store.Delete, Store.Apply and RunLock.
type runData struct {
	mu      sync.RWMutex
	entries map[string]record // keyed by Key.MapKey()
}

func newRunData() *runData {
	return &runData{entries: make(map[string]record)}
}

// shardOf selects the outer shard a Run hashes to. Using xxhash over the
// Run's 16 raw bytes keeps this allocation-free and branch-light.
func shardOf(run addressing.RunID) int {
	return int(run.Hash() & (shardCount - 1))
}
