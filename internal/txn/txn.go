// Package txn implements the Transaction Context and its pool (spec §4.3):
// a per-transaction handle holding a Run identifier, a snapshot, a read set,
// and a write set, reused across transactions through the pool so that
// steady-state commits perform zero heap allocation on the hot path.
package txn

import (
	"errors"

	"github.com/stratadb/strata/internal/addressing"
	"github.com/stratadb/strata/internal/shardstore"
	"github.com/stratadb/strata/internal/value"
)

// State is the transaction lifecycle (§3 "Transaction").
type State byte

const (
	StateActive State = iota
	StateValidating
	StateCommitted
	StateAborted
)

// absentSentinel marks a read-set entry observed as "key does not exist",
// recorded together with the snapshot's version per §3 "Read set".
const absentSentinel = ^uint64(0)

// ErrClosed is returned by any operation on a Tx that has already committed
// or aborted.
var ErrClosed = errors.New("txn: transaction is no longer active")

// readEntry is one observation recorded in the read set: the key actually
// read, and the version seen (or absentSentinel if the key was absent).
type readEntry struct {
	key     addressing.Key
	version uint64
}

// casExpectation is a recorded CAS precondition: key must still be at
// expectedVersion when the transaction commits (§4.4 step 2).
type casExpectation struct {
	key      addressing.Key
	expected uint64
}

// writeEntry is one buffered mutation; its position in program order is its
// index in Tx.writeList — write-set order matters for the final serialized
// write-set (§3).
type writeEntry struct {
	mutation shardstore.Mutation
}

// Tx is a pooled, single-goroutine-owned transaction context. The zero value
// is not usable; obtain one from a Pool's Begin.
type Tx struct {
	run      addressing.RunID
	snapshot shardstore.Snapshot
	state    State

	// reads is keyed by Key.MapKey() so conflict validation can look a key
	// up in O(1); readKeys preserves insertion order for deterministic
	// iteration (mostly useful for tests). Read-your-own-writes goes through
	// writes, not reads.
	reads    map[string]readEntry
	readKeys []string

	writes    map[string]int // MapKey -> index into writeList
	writeList []writeEntry

	casExpectations map[string]casExpectation
}

func newTx() *Tx {
	return &Tx{
		reads:           make(map[string]readEntry),
		writes:          make(map[string]int),
		writeList:       make([]writeEntry, 0, 8),
		casExpectations: make(map[string]casExpectation),
	}
}

// reset clears both sets without deallocating their backing storage (§4.3
// "reset()"), so steady-state transactions on a reused Tx allocate nothing.
func (tx *Tx) reset(run addressing.RunID, snapshot shardstore.Snapshot) {
	tx.run = run
	tx.snapshot = snapshot
	tx.state = StateActive
	clear(tx.reads)
	tx.readKeys = tx.readKeys[:0]
	clear(tx.writes)
	tx.writeList = tx.writeList[:0]
	clear(tx.casExpectations)
}

// Run returns the Run this transaction is scoped to.
func (tx *Tx) Run() addressing.RunID { return tx.run }

// SnapshotVersion returns the global version this transaction's snapshot was
// taken at.
func (tx *Tx) SnapshotVersion() uint64 { return tx.snapshot.Version }

// State returns the transaction's current lifecycle state.
func (tx *Tx) State() State { return tx.state }

// Get reads key: the write set is checked first (read-your-own-writes),
// otherwise the read goes through the snapshot and the observed version (or
// the absent sentinel) is recorded into the read set (§4.3 "get(key)").
func (tx *Tx) Get(key addressing.Key) (value.Value, bool, error) {
	if tx.state != StateActive {
		return value.Value{}, false, ErrClosed
	}

	mk := key.MapKey()
	if idx, ok := tx.writes[mk]; ok {
		w := tx.writeList[idx].mutation
		if w.Op == shardstore.OpDelete {
			return value.Value{}, false, nil
		}
		return w.Value, true, nil
	}

	vv, ok := tx.snapshot.Get(tx.run, key)
	tx.recordRead(key, vv, ok)
	if !ok {
		return value.Value{}, false, nil
	}
	return vv.Value, true, nil
}

func (tx *Tx) recordRead(key addressing.Key, vv value.VersionedValue, present bool) {
	mk := key.MapKey()
	if _, already := tx.reads[mk]; already {
		return // first observation wins for this transaction's validation
	}
	v := absentSentinel
	if present {
		v = vv.Version
	}
	tx.reads[mk] = readEntry{key: key, version: v}
	tx.readKeys = append(tx.readKeys, mk)
}

// Put buffers a write (§4.3 "put(key, value)").
func (tx *Tx) Put(key addressing.Key, v value.Value) error {
	return tx.bufferWrite(key, shardstore.Mutation{Op: shardstore.OpPut, Key: key, Value: v})
}

// Append buffers an append-style write, treated identically to Put by the
// core (§3 "Write set"); facades such as the event log distinguish Append
// semantically but the core's write-set handling does not.
func (tx *Tx) Append(key addressing.Key, v value.Value) error {
	return tx.bufferWrite(key, shardstore.Mutation{Op: shardstore.OpAppend, Key: key, Value: v})
}

// Delete buffers a delete (§4.3 "delete(key)").
func (tx *Tx) Delete(key addressing.Key) error {
	return tx.bufferWrite(key, shardstore.Mutation{Op: shardstore.OpDelete, Key: key})
}

// CAS buffers a write conditional on key's stored version currently equaling
// expectedVersion (§4.3 "cas(key, expected_version, value)"). The
// expectation is checked by the Validator at commit time, independent of
// whatever the transaction's own read set says.
func (tx *Tx) CAS(key addressing.Key, expectedVersion uint64, v value.Value) error {
	if tx.state != StateActive {
		return ErrClosed
	}
	mk := key.MapKey()
	tx.casExpectations[mk] = casExpectation{key: key, expected: expectedVersion}
	return tx.bufferWrite(key, shardstore.Mutation{Op: shardstore.OpPut, Key: key, Value: v})
}

func (tx *Tx) bufferWrite(key addressing.Key, m shardstore.Mutation) error {
	if tx.state != StateActive {
		return ErrClosed
	}
	mk := key.MapKey()
	if idx, ok := tx.writes[mk]; ok {
		tx.writeList[idx].mutation = m // last write for a key wins within one tx
		return nil
	}
	tx.writes[mk] = len(tx.writeList)
	tx.writeList = append(tx.writeList, writeEntry{mutation: m})
	return nil
}

// Abort discards both sets and marks the transaction aborted (§4.3
// "abort()"). Calling Abort more than once is a no-op.
func (tx *Tx) Abort() {
	if tx.state == StateCommitted || tx.state == StateAborted {
		return
	}
	tx.state = StateAborted
}

// WriteSet returns the ordered mutations buffered so far, in write order.
func (tx *Tx) WriteSet() []shardstore.Mutation {
	out := make([]shardstore.Mutation, len(tx.writeList))
	for i, w := range tx.writeList {
		out[i] = w.mutation
	}
	return out
}

// ReadVersion reports the version this transaction observed for key, and
// whether key was read as present. ok is false if key was never read.
func (tx *Tx) ReadVersion(key addressing.Key) (version uint64, present bool, ok bool) {
	r, found := tx.reads[key.MapKey()]
	if !found {
		return 0, false, false
	}
	if r.version == absentSentinel {
		return 0, false, true
	}
	return r.version, true, true
}

// ReadKeys returns every key this transaction has read, in first-read order.
func (tx *Tx) ReadKeys() []addressing.Key {
	out := make([]addressing.Key, 0, len(tx.readKeys))
	for _, mk := range tx.readKeys {
		out = append(out, tx.reads[mk].key)
	}
	return out
}

// CASExpectations returns every recorded CAS precondition.
func (tx *Tx) CASExpectations() []struct {
	Key      addressing.Key
	Expected uint64
} {
	out := make([]struct {
		Key      addressing.Key
		Expected uint64
	}, 0, len(tx.casExpectations))
	for _, c := range tx.casExpectations {
		out = append(out, struct {
			Key      addressing.Key
			Expected uint64
		}{Key: c.key, Expected: c.expected})
	}
	return out
}

// MarkValidating transitions an active transaction into the validating
// state; called by the commit path just before handing off to the
// Validator.
func (tx *Tx) MarkValidating() error {
	if tx.state != StateActive {
		return ErrClosed
	}
	tx.state = StateValidating
	return nil
}

// MarkCommitted transitions a validating transaction into the committed
// state.
func (tx *Tx) MarkCommitted() {
	tx.state = StateCommitted
}

// MarkAborted transitions a validating transaction into the aborted state
// (used when the Validator rejects the commit).
func (tx *Tx) MarkAborted() {
	tx.state = StateAborted
}
