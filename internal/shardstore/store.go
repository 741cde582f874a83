package shardstore

import (
	"sort"
	"sync/atomic"

	"github.com/stratadb/strata/internal/addressing"
	"github.com/stratadb/strata/internal/value"
)

// Mutation is a single write-set entry (spec §3 "Write set"): Put, Delete,
// or Append, carrying the target key and — for Put/Append — the value to
// write. Append is a facade-level convenience (e.g. the event-log primitive)
// that the store treats identically to Put: both install a new
// VersionedValue at the key.
type MutationOp byte

const (
	OpPut MutationOp = iota
	OpDelete
	OpAppend
)

type Mutation struct {
	Op    MutationOp
	Key   addressing.Key
	Value value.Value // ignored for OpDelete
}

// Store is the authoritative in-memory state described in §4.1. It is safe
// for concurrent use by many goroutines.
type Store struct {
	shards  [shardCount]runShard
	version atomic.Uint64 // single global version counter (§3, §4.1)
}

// New constructs an empty Store with its global version counter at 0.
func New() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].runs = make(map[addressing.RunID]*runData)
	}
	return s
}

// CurrentVersion returns the engine's current global version — the highest
// version allocated so far (0 if nothing has ever committed).
func (s *Store) CurrentVersion() uint64 {
	return s.version.Load()
}

// AllocateVersion atomically advances and returns the next global commit
// version. Called exactly once per committing transaction, from the
// Validator, under the Run's shard lock (§4.4).
func (s *Store) AllocateVersion() uint64 {
	return s.version.Add(1)
}

// BumpVersionSeen advances the engine's global counter to at least v without
// allocating a new version — used by recovery to restore the counter from a
// snapshot watermark or replayed WAL record (§4.6), where versions must be
// preserved exactly rather than reassigned.
func (s *Store) BumpVersionSeen(v uint64) {
	for {
		cur := s.version.Load()
		if v <= cur {
			return
		}
		if s.version.CompareAndSwap(cur, v) {
			return
		}
	}
}

// runDataFor returns the runData for run, creating it on first touch. The
// outer shard lock is only taken to manage this rare insertion; all
// subsequent Get/Put/Delete traffic for the Run proceeds on runData's own
// lock, never contending with a different Run's traffic.
func (s *Store) runDataFor(run addressing.RunID) *runData {
	shard := &s.shards[shardOf(run)]

	shard.mu.RLock()
	rd, ok := shard.runs[run]
	shard.mu.RUnlock()
	if ok {
		return rd
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if rd, ok := shard.runs[run]; ok {
		return rd
	}
	rd = newRunData()
	shard.runs[run] = rd
	return rd
}

// existingRunData returns the runData for run without creating one,
// reporting ok=false if the Run has never been touched.
func (s *Store) existingRunData(run addressing.RunID) (*runData, bool) {
	shard := &s.shards[shardOf(run)]
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	rd, ok := shard.runs[run]
	return rd, ok
}

// Get performs a lock-free-with-respect-to-other-Runs read of key's current
// versioned value (§4.1 "get").
func (s *Store) Get(run addressing.RunID, key addressing.Key) (value.VersionedValue, bool) {
	rd, ok := s.existingRunData(run)
	if !ok {
		return value.VersionedValue{}, false
	}
	rd.mu.RLock()
	defer rd.mu.RUnlock()
	rec, ok := rd.entries[key.MapKey()]
	return rec.value, ok
}

// Put installs versioned at key, locking only run's shard (§4.1 "put").
func (s *Store) Put(run addressing.RunID, key addressing.Key, versioned value.VersionedValue) {
	rd := s.runDataFor(run)
	rd.mu.Lock()
	defer rd.mu.Unlock()
	rd.entries[key.MapKey()] = record{key: key, value: versioned}
}

// Delete removes key from run's shard, returning the prior value if any
// (§4.1 "delete"). Deletion is immediate and unconditional — the core does
// not retain tombstones; a facade that needs deletion to replicate or be
// otherwise observable after the fact must record that itself.
func (s *Store) Delete(run addressing.RunID, key addressing.Key) (value.VersionedValue, bool) {
	rd := s.runDataFor(run)
	rd.mu.Lock()
	defer rd.mu.Unlock()
	prior, ok := rd.entries[key.MapKey()]
	if ok {
		delete(rd.entries, key.MapKey())
	}
	return prior.value, ok
}

// Apply installs an entire write-set, stamping each mutation with
// commitVersion (§4.1 "apply"). All mutations in a write-set address the
// same Run — see the per-Run atomicity scope explained in the package doc —
// so a single lock acquisition on that Run's shard covers the whole
// write-set, making it atomic with respect to other writers of the same Run
// and immediately, wholly visible (never torn) to readers of any Run.
func (s *Store) Apply(run addressing.RunID, mutations []Mutation, commitVersion uint64, timestampMicros int64) {
	if len(mutations) == 0 {
		return
	}
	rd := s.runDataFor(run)
	rd.mu.Lock()
	defer rd.mu.Unlock()
	for _, m := range mutations {
		mk := m.Key.MapKey()
		switch m.Op {
		case OpDelete:
			delete(rd.entries, mk)
		case OpPut, OpAppend:
			rd.entries[mk] = record{
				key: m.Key,
				value: value.VersionedValue{
					Value:     m.Value,
					Version:   commitVersion,
					Timestamp: timestampMicros,
				},
			}
		}
	}
}

// ApplyPreserving is identical to Apply except it stamps each mutation with
// the version and timestamp carried on the mutation's already-versioned
// value rather than a freshly-allocated one. Recovery uses this so that
// replayed WAL records keep their original commit version and timestamp
// verbatim (§4.6 "Version preservation") instead of being reassigned.
func (s *Store) ApplyPreserving(run addressing.RunID, entries []PreservedEntry) {
	if len(entries) == 0 {
		return
	}
	rd := s.runDataFor(run)
	rd.mu.Lock()
	defer rd.mu.Unlock()
	for _, e := range entries {
		mk := e.Key.MapKey()
		if e.Tombstone {
			delete(rd.entries, mk)
			continue
		}
		rd.entries[mk] = record{key: e.Key, value: e.Value}
	}
}

// PreservedEntry is one WAL-replay or snapshot-load entry whose version must
// be preserved exactly rather than reassigned.
type PreservedEntry struct {
	Key       addressing.Key
	Value     value.VersionedValue
	Tombstone bool
}

// ListEntry is one (key, versioned value) pair returned by List.
type ListEntry struct {
	Key   addressing.Key
	Value value.VersionedValue
}

// List scans run's shard for keys matching prefix, returning results sorted
// by key (§4.1 "list"). This is explicitly off the hot path: it copies and
// sorts, and is intended for administrative/debugging use and for facades
// doing a bounded range scan, never for the per-transaction read/write path.
func (s *Store) List(run addressing.RunID, tag addressing.TypeTag, prefix []byte) []ListEntry {
	rd, ok := s.existingRunData(run)
	if !ok {
		return nil
	}

	rd.mu.RLock()
	out := make([]ListEntry, 0, len(rd.entries))
	for _, rec := range rd.entries {
		if rec.key.Tag != tag {
			continue
		}
		if len(prefix) > 0 && !rec.key.HasPrefix(prefix) {
			continue
		}
		out = append(out, ListEntry{Key: rec.key, Value: rec.value})
	}
	rd.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// AllRuns returns every Run identifier currently touched anywhere in the
// store. Used by checkpoint (§4.6) to enumerate what to walk; it is
// explicitly an administrative operation, not part of the hot path.
func (s *Store) AllRuns() []addressing.RunID {
	var out []addressing.RunID
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.RLock()
		for run := range shard.runs {
			out = append(out, run)
		}
		shard.mu.RUnlock()
	}
	return out
}

// AllEntries returns every (key, versioned value) pair for run, unsorted and
// unfiltered by tag. Used by checkpoint to serialize a primitive's section
// of a Run's state (§4.6 step 2).
func (s *Store) AllEntries(run addressing.RunID) []ListEntry {
	rd, ok := s.existingRunData(run)
	if !ok {
		return nil
	}
	rd.mu.RLock()
	defer rd.mu.RUnlock()
	out := make([]ListEntry, 0, len(rd.entries))
	for _, rec := range rd.entries {
		out = append(out, ListEntry{Key: rec.key, Value: rec.value})
	}
	return out
}
