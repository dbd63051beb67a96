package connection

import "sync"

// ItemLockTable serializes miss-fill across connections touching the same
// key. It is a correctness aid, not a throughput feature, and is disabled
// by default; pass nil to run without it.
type ItemLockTable struct {
	locks []sync.Mutex
	mask  uint64
}

// NewItemLockTable builds a table of 2^hashpower mutexes.
func NewItemLockTable(hashpower uint) *ItemLockTable {
	n := uint64(1) << hashpower
	return &ItemLockTable{
		locks: make([]sync.Mutex, n),
		mask:  n - 1,
	}
}

func (t *ItemLockTable) Lock(hash uint64) {
	t.locks[hash&t.mask].Lock()
}

func (t *ItemLockTable) Unlock(hash uint64) {
	t.locks[hash&t.mask].Unlock()
}
