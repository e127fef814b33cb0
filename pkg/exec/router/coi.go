package router

import (
	"errors"
	"sync"
	"time"
)

// ErrIndexSpaceExhausted is returned when every index in the venue's
// declared width is occupied by a live order.
var ErrIndexSpaceExhausted = errors.New("client order index space exhausted")

// LiveIndexChecker answers whether an index currently names a
// non-terminal order and must not be reissued.
type LiveIndexChecker interface {
	LiveIndexUsed(venue string, coi uint64) bool
}

// COIManager hands out client order indices per venue. Indices are
// monotonic, wrap at the venue-declared bit width, and skip any index
// still attached to a live order. The counter is time-seeded so a
// restarted process does not immediately collide with indices the
// venue may still remember.
type COIManager struct {
	mu    sync.Mutex
	live  LiveIndexChecker
	next  map[string]uint64
	masks map[string]uint64
}

func NewCOIManager(live LiveIndexChecker) *COIManager {
	return &COIManager{
		live:  live,
		next:  make(map[string]uint64),
		masks: make(map[string]uint64),
	}
}

// RegisterVenue declares the index width for a venue. Must be called
// before Next for that venue.
func (m *COIManager) RegisterVenue(venue string, bits uint) {
	if bits == 0 || bits > 63 {
		bits = 63
	}
	mask := uint64(1)<<bits - 1
	m.mu.Lock()
	defer m.mu.Unlock()
	m.masks[venue] = mask
	if _, ok := m.next[venue]; !ok {
		// seed inside the index space, never 0 (0 means "generate")
		seed := uint64(time.Now().UnixNano()) & mask
		if seed == 0 {
			seed = 1
		}
		m.next[venue] = seed
	}
}

// Next returns the next free index for the venue.
func (m *COIManager) Next(venue string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mask, ok := m.masks[venue]
	if !ok {
		return 0, errors.New("venue not registered with index manager")
	}
	coi := m.next[venue]
	for tried := uint64(0); tried <= mask; tried++ {
		if coi == 0 {
			coi = 1
		}
		if !m.live.LiveIndexUsed(venue, coi) {
			m.next[venue] = (coi + 1) & mask
			return coi, nil
		}
		coi = (coi + 1) & mask
	}
	return 0, ErrIndexSpaceExhausted
}
