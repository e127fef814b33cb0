// Package store holds the in-process registry of live and recently
// terminal orders, keyed by (venue, symbol, client order index).
package store

import (
	"errors"
	"sync"

	"github.com/joripage/execution-dev/pkg/exec/model"
)

var (
	ErrDuplicateOrder = errors.New("duplicate client order index")
	ErrOrderNotFound  = errors.New("order not found")
	ErrNotTerminal    = errors.New("order not terminal")
)

type Store struct {
	mu     sync.RWMutex
	orders map[model.OrderKey]*model.Order
	// byVenueCOI resolves push events that omit the symbol.
	byVenueCOI map[string]map[uint64]*model.Order
}

func New() *Store {
	return &Store{
		orders:     make(map[model.OrderKey]*model.Order),
		byVenueCOI: make(map[string]map[uint64]*model.Order),
	}
}

// Add registers a new order. A key collision means a client order index
// was reused while still outstanding, which the COI manager must never
// allow; it is surfaced rather than silently overwritten.
func (s *Store) Add(o *model.Order) error {
	key := o.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[key]; ok {
		return ErrDuplicateOrder
	}
	s.orders[key] = o
	m := s.byVenueCOI[key.Venue]
	if m == nil {
		m = make(map[uint64]*model.Order)
		s.byVenueCOI[key.Venue] = m
	}
	m[key.ClientOrderIndex] = o
	return nil
}

func (s *Store) Get(key model.OrderKey) (*model.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[key]
	return o, ok
}

// Lookup finds an order by venue and client order index alone.
func (s *Store) Lookup(venue string, coi uint64) (*model.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.byVenueCOI[venue][coi]
	return o, ok
}

// LiveIndexUsed reports whether a client order index is still held by a
// non-terminal order on the venue. The COI manager consults it on wrap.
func (s *Store) LiveIndexUsed(venue string, coi uint64) bool {
	s.mu.RLock()
	o, ok := s.byVenueCOI[venue][coi]
	s.mu.RUnlock()
	return ok && !o.IsTerminal()
}

// Live returns all non-terminal orders for a venue. These are the
// orders the snapshot poll cycle reconciles.
func (s *Store) Live(venue string) []*model.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Order
	for _, o := range s.byVenueCOI[venue] {
		if !o.IsTerminal() {
			out = append(out, o)
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Archive removes a terminal order from the registry and returns its
// final snapshot. Live orders are never archived.
func (s *Store) Archive(key model.OrderKey) (model.OrderSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[key]
	if !ok {
		return model.OrderSnapshot{}, ErrOrderNotFound
	}
	if !o.IsTerminal() {
		return model.OrderSnapshot{}, ErrNotTerminal
	}
	delete(s.orders, key)
	delete(s.byVenueCOI[key.Venue], key.ClientOrderIndex)
	return o.Snapshot(), nil
}
