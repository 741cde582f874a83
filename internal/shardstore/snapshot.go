package shardstore

import (
	"github.com/stratadb/strata/internal/addressing"
	"github.com/stratadb/strata/internal/value"
)

// Snapshot is a point-in-time read view over a Store (§4.2). It is cheap
// (O(1), allocation-free) to acquire: it captures the store's current
// global version and holds a shared reference to the store itself. Reads
// through a Snapshot filter by `entry.Version <= Snapshot.Version` — entries
// committed after the snapshot was taken are invisible.
//
// Because versions are strictly increasing and assigned at commit time under
// exclusive hold of the shard lock for the duration of write-set
// application, every concurrent reader either sees the entire pre-commit
// value or the entire post-commit value for a Run, never a torn write
// (invariant: snapshot observational equivalence, §4.2).
type Snapshot struct {
	store   *Store
	Version uint64
}

// Snapshot acquires a point-in-time view of s. This must complete in O(1)
// without allocating (§4.1 "snapshot()").
func (s *Store) Snapshot() Snapshot {
	return Snapshot{store: s, Version: s.version.Load()}
}

// Get reads key as of the snapshot's version: entries committed strictly
// after Version are invisible, even if the underlying store has since moved
// on. The store keeps a single version per key, so a key overwritten after
// the snapshot was taken reads as absent; its earlier value is not returned.
func (sn Snapshot) Get(run addressing.RunID, key addressing.Key) (value.VersionedValue, bool) {
	vv, ok := sn.store.Get(run, key)
	if !ok || vv.Version > sn.Version {
		return value.VersionedValue{}, false
	}
	return vv, true
}

// List is List filtered to entries visible as of the snapshot's version.
func (sn Snapshot) List(run addressing.RunID, tag addressing.TypeTag, prefix []byte) []ListEntry {
	all := sn.store.List(run, tag, prefix)
	out := all[:0]
	for _, e := range all {
		if e.Value.Version <= sn.Version {
			out = append(out, e)
		}
	}
	return out
}
