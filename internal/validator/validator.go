// Package validator implements the commit-time Conflict Validator (spec
// §4.4): first-committer-wins optimistic concurrency control checked
// against a transaction's read set and CAS preconditions, commit-version
// allocation, and write-set application — all performed while holding the
// committing transaction's Run's shard lock, so the check-then-apply
// sequence is atomic with respect to every other transaction committing
// against that same Run.
package validator

import (
	"time"

	"github.com/stratadb/strata/internal/addressing"
	"github.com/stratadb/strata/internal/shardstore"
	"github.com/stratadb/strata/internal/txn"
)

// Durability is the WAL seam a Validator writes through before applying a
// transaction's write-set to the in-memory store (§4.5 "commit ordering").
// A nil Durability is valid and used by callers that want validation and
// application without any durability guarantee at all (tests, or a future
// facade explicitly opting out).
type Durability interface {
	// Append durably records run's write-set at commitVersion before it is
	// applied to the in-memory store. An error aborts the commit before any
	// state changes are visible.
	Append(run addressing.RunID, commitVersion uint64, timestampMicros int64, mutations []shardstore.Mutation) error
}

// Metrics receives commit/conflict counters from the Validator (§6
// observability outputs). A nil Metrics is valid; every call is a no-op
// guarded by a nil check.
type Metrics interface {
	RecordCommit()
	RecordConflict(cause string)
}

// Validator commits transactions against a Store, optionally durably
// recording each commit through a Durability implementation first.
type Validator struct {
	store   *shardstore.Store
	wal     Durability
	metrics Metrics
}

// New constructs a Validator. wal and metrics may both be nil.
func New(store *shardstore.Store, wal Durability, metrics Metrics) *Validator {
	return &Validator{store: store, wal: wal, metrics: metrics}
}

// Commit validates tx's read set and CAS preconditions against the current
// state of tx's Run, and on success allocates a commit version, durably
// records the write-set (if a Durability is configured), and applies it —
// all under tx.Run()'s shard lock. On conflict, tx is marked aborted and a
// *ConflictError wrapping ErrConflict or ErrCASMismatch is returned.
func (v *Validator) Commit(tx *txn.Tx) (commitVersion uint64, err error) {
	if err := tx.MarkValidating(); err != nil {
		return 0, err
	}

	mutations := tx.WriteSet()

	// A transaction with no writes and no CAS preconditions cannot conflict
	// with anything: snapshot isolation guarantees its reads were
	// consistent as of the snapshot it took, and it changes no state, so it
	// always "commits" trivially at its own snapshot version.
	if len(mutations) == 0 && len(tx.CASExpectations()) == 0 {
		tx.MarkCommitted()
		if v.metrics != nil {
			v.metrics.RecordCommit()
		}
		return tx.SnapshotVersion(), nil
	}

	lock := v.store.Lock(tx.Run())
	defer lock.Unlock()

	if conflict := validateReads(tx, lock); conflict != nil {
		tx.MarkAborted()
		if v.metrics != nil {
			v.metrics.RecordConflict("stale_read")
		}
		return 0, conflict
	}
	if conflict := validateCAS(tx, lock); conflict != nil {
		tx.MarkAborted()
		if v.metrics != nil {
			v.metrics.RecordConflict("cas_mismatch")
		}
		return 0, conflict
	}

	commitVersion = lock.AllocateVersion()
	timestampMicros := time.Now().UnixMicro()

	if v.wal != nil {
		if err := v.wal.Append(tx.Run(), commitVersion, timestampMicros, mutations); err != nil {
			tx.MarkAborted()
			return 0, err
		}
	}

	lock.ApplyLocked(mutations, commitVersion, timestampMicros)
	tx.MarkCommitted()
	if v.metrics != nil {
		v.metrics.RecordCommit()
	}
	return commitVersion, nil
}

// validateReads checks every key tx read against its current stored state
// under lock, per §4.4 step 1: a key whose presence or version has changed
// since tx observed it means tx's snapshot is stale with respect to that
// key, and first-committer-wins rejects the later commit.
func validateReads(tx *txn.Tx, lock *shardstore.RunLock) *ConflictError {
	for _, key := range tx.ReadKeys() {
		observedVersion, observedPresent, _ := tx.ReadVersion(key)
		current, currentPresent := lock.GetLocked(key)

		if observedPresent != currentPresent {
			return &ConflictError{Key: key, Err: ErrConflict}
		}
		if observedPresent && current.Version != observedVersion {
			return &ConflictError{Key: key, Err: ErrConflict}
		}
	}
	return nil
}

// validateCAS checks every CAS precondition tx recorded against the current
// stored version under lock (§4.4 step 2). A key never written has an
// implicit expected version of 0.
func validateCAS(tx *txn.Tx, lock *shardstore.RunLock) *ConflictError {
	for _, exp := range tx.CASExpectations() {
		current, ok := lock.GetLocked(exp.Key)
		var currentVersion uint64
		if ok {
			currentVersion = current.Version
		}
		if currentVersion != exp.Expected {
			return &ConflictError{Key: exp.Key, Err: ErrCASMismatch}
		}
	}
	return nil
}
