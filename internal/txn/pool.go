package txn

import (
	"github.com/stratadb/strata/internal/addressing"
	"github.com/stratadb/strata/internal/shardstore"
)

// perGoroutineCap is the maximum number of free Tx contexts the pool as a
// whole retains before it starts dropping excess ones (§4.3 "Pool
// discipline").
const perGoroutineCap = 8

// Pool hands out pooled Tx contexts so that steady-state transactions
// perform zero heap allocation (§4.3). The free list is a single buffered
// channel of capacity perGoroutineCap shared by all goroutines: Begin takes
// a context from it or allocates a new one when it is empty, and End puts
// the context back, or drops it when the channel is already full.
type Pool struct {
	store *shardstore.Store
	free  chan *Tx
}

// NewPool constructs a Pool of pooled transaction contexts backed by store.
func NewPool(store *shardstore.Store) *Pool {
	return &Pool{
		store: store,
		free:  make(chan *Tx, perGoroutineCap),
	}
}

// Begin acquires a pooled context, takes a fresh snapshot, and scopes it to
// run (§4.3 "begin(run)").
func (p *Pool) Begin(run addressing.RunID) *Tx {
	var tx *Tx
	select {
	case tx = <-p.free:
	default:
		tx = newTx()
	}
	tx.reset(run, p.store.Snapshot())
	return tx
}

// End returns tx to the pool (§4.3 "end()"). If the pool is already at
// capacity, tx is dropped for the garbage collector instead of retained.
func (p *Pool) End(tx *Tx) {
	select {
	case p.free <- tx:
	default:
		// Pool full — drop the excess context rather than grow unbounded.
	}
}
