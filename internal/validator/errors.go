package validator

import (
	"errors"
	"fmt"

	"github.com/stratadb/strata/internal/addressing"
)

// ErrConflict is returned when a transaction's read set is stale: some key
// it read has since been committed at a different version by another
// transaction for the same Run (§4.4 "read-set validation").
var ErrConflict = errors.New("validator: read-set conflict")

// ErrCASMismatch is returned when a CAS precondition no longer holds at
// commit time (§4.4 step 2).
var ErrCASMismatch = errors.New("validator: compare-and-swap precondition failed")

// ConflictError names the specific key that invalidated a commit, wrapping
// ErrConflict or ErrCASMismatch so callers can branch on errors.Is while
// still logging which key was at fault.
type ConflictError struct {
	Key addressing.Key
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: key %s", e.Err, e.Key)
}

func (e *ConflictError) Unwrap() error { return e.Err }
