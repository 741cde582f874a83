package strata

import (
	"errors"
	"fmt"

	"github.com/stratadb/strata/internal/addressing"
)

// Sentinel errors for the error kinds spec §7 enumerates. Callers should
// use errors.Is against these, or errors.As against the richer *ConflictError
// / *CASMismatchError types for the offending key and versions.
var (
	// ErrConflict is returned when a transaction's read set was stale at
	// commit time: a concurrent committer advanced the version of a key
	// this transaction read after the transaction's snapshot.
	ErrConflict = errors.New("strata: conflict")

	// ErrCASMismatch is returned when a compare-and-swap precondition did
	// not match the stored version at commit time.
	ErrCASMismatch = errors.New("strata: cas mismatch")

	// ErrNotFound is returned by operations that require a key to be
	// present.
	ErrNotFound = errors.New("strata: not found")

	// ErrEngineClosed is returned by any operation invoked after Close.
	ErrEngineClosed = errors.New("strata: engine closed")

	// ErrCorrupt is returned when a checksum failure is encountered
	// outside of WAL replay — a corrupt Manifest or snapshot file, both of
	// which fail open() rather than being locally recovered (§7 "Fatal").
	ErrCorrupt = errors.New("strata: corrupt")

	// ErrCodecMismatch is returned when the configured codec id does not
	// match the Manifest's recorded codec id.
	ErrCodecMismatch = errors.New("strata: codec mismatch")

	// ErrDurabilityFailure is returned when a WAL append or fsync fails;
	// the transaction that triggered it is aborted and never becomes
	// visible.
	ErrDurabilityFailure = errors.New("strata: durability failure")

	// ErrInvalidOperation names the invalid-operation error kind. The
	// engine itself does not return it: Tx methods called after Commit or
	// Abort return the internal txn package's ErrClosed.
	ErrInvalidOperation = errors.New("strata: invalid operation")

	// ErrCompactionInProgress is returned by compact() when a prior
	// compaction on the same engine has not yet finished (§4.8).
	ErrCompactionInProgress = errors.New("strata: compaction already in progress")
)

// ConflictError reports the key whose stale read caused a commit to be
// rejected (§4.4 step 1).
type ConflictError struct {
	Key addressing.Key
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("strata: conflict on key %s", e.Key)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// CASMismatchError reports the key and the expected-vs-actual stored version
// that caused a CAS precondition to fail (§4.4 step 2, §8 scenario 3).
type CASMismatchError struct {
	Key      addressing.Key
	Expected uint64
	Actual   uint64
}

func (e *CASMismatchError) Error() string {
	return fmt.Sprintf("strata: cas mismatch on key %s: expected version %d, actual %d", e.Key, e.Expected, e.Actual)
}

func (e *CASMismatchError) Unwrap() error { return ErrCASMismatch }
