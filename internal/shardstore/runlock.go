package shardstore

import (
	"github.com/stratadb/strata/internal/addressing"
	"github.com/stratadb/strata/internal/value"
)

// RunLock is a held exclusive lock on one Run's shard. It is the mechanism
// behind §4.4's ordering guarantee: "commit-version allocation and the
// writeset application happen atomically with respect to other commits for
// the same Run by holding the Run's shard lock across both steps". Callers
// (the Validator) acquire a RunLock, perform conflict validation, allocate
// the commit version, write the WAL record if durability requires it, and
// apply the write-set — all before releasing the lock, so no concurrently
// committing transaction for the same Run can observe a half-finished
// commit or validate against a version this commit is about to invalidate.
type RunLock struct {
	store *Store
	rd    *runData
}

// Lock acquires exclusive access to run's shard. The caller must call
// Unlock exactly once.
func (s *Store) Lock(run addressing.RunID) *RunLock {
	rd := s.runDataFor(run)
	rd.mu.Lock()
	return &RunLock{store: s, rd: rd}
}

// Unlock releases the Run's shard lock.
func (l *RunLock) Unlock() {
	l.rd.mu.Unlock()
}

// GetLocked reads key's current versioned value while already holding the
// Run's lock — used by the Validator to check the current stored version
// against a transaction's read set without a second lock acquisition.
func (l *RunLock) GetLocked(key addressing.Key) (value.VersionedValue, bool) {
	rec, ok := l.rd.entries[key.MapKey()]
	return rec.value, ok
}

// AllocateVersion allocates the next global commit version. It may be
// called while holding a RunLock (the global counter is independent of any
// Run's shard lock) so that allocation and application stay inside one
// critical section for the Run.
func (l *RunLock) AllocateVersion() uint64 {
	return l.store.AllocateVersion()
}

// ApplyLocked applies mutations to the locked Run's shard, stamping every
// entry with commitVersion and timestampMicros — the final step of a
// commit, executed without releasing the lock acquired at the start of
// validation (§4.4 step 3, §4.1 "apply"). The caller picks the timestamp
// once (rather than each entry computing its own) so a WAL record written
// for the same commit carries an identical timestamp to the applied state.
func (l *RunLock) ApplyLocked(mutations []Mutation, commitVersion uint64, timestampMicros int64) {
	for _, m := range mutations {
		mk := m.Key.MapKey()
		switch m.Op {
		case OpDelete:
			delete(l.rd.entries, mk)
		case OpPut, OpAppend:
			l.rd.entries[mk] = record{
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
