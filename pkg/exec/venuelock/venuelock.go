// Package venuelock serializes order placement per venue and symbol.
// A submit-then-cancel critical section must not interleave with
// another placement on the same book, or two chasing sessions could
// hold live orders for the same intent at once.
package venuelock

import "sync"

type Table struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewTable() *Table {
	return &Table{locks: make(map[string]*sync.Mutex)}
}

func (t *Table) get(venue, symbol string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := venue + "/" + symbol
	l, ok := t.locks[k]
	if !ok {
		l = &sync.Mutex{}
		t.locks[k] = l
	}
	return l
}

// Acquire blocks until the (venue, symbol) lock is held and returns
// the release function. Locks are exclusive, not reader-counted.
func (t *Table) Acquire(venue, symbol string) (release func()) {
	l := t.get(venue, symbol)
	l.Lock()
	return l.Unlock
}
