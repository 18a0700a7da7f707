package orderbook

import (
	"sync"

	"github.com/emirpasic/gods/sets/treeset"
	"github.com/emirpasic/gods/utils"
	"github.com/ethereum/go-ethereum/common"
)

// Store holds live orders plus two sorted indices over them: every active
// id, and active ids per owner. An order is present in the indices exactly
// while its slot is occupied; closing an order erases the slot.
type Store struct {
	mu      sync.RWMutex
	orders  map[uint64]Order
	active  *treeset.Set
	byOwner map[common.Address]*treeset.Set
}

func NewStore() *Store {
	return &Store{
		orders:  make(map[uint64]Order),
		active:  treeset.NewWith(utils.UInt64Comparator),
		byOwner: make(map[common.Address]*treeset.Set),
	}
}

func (s *Store) Get(id uint64) Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return Empty
	}
	return Occupied(o)
}

// Put inserts or updates an order. An exhausted order is erased instead,
// so the store never holds a record with nothing left to fill.
func (s *Store) Put(o Order) {
	if o.Exhausted() {
		s.Erase(o.ID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.orders[o.ID]; ok && prev.Owner != o.Owner {
		s.unindex(prev)
	}
	s.orders[o.ID] = o
	s.active.Add(o.ID)
	owned, ok := s.byOwner[o.Owner]
	if !ok {
		owned = treeset.NewWith(utils.UInt64Comparator)
		s.byOwner[o.Owner] = owned
	}
	owned.Add(o.ID)
}

// Erase clears the slot and drops the id from both indices.
func (s *Store) Erase(id uint64) (Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return Order{}, false
	}
	delete(s.orders, id)
	s.unindex(o)
	return o, true
}

func (s *Store) unindex(o Order) {
	s.active.Remove(o.ID)
	if owned, ok := s.byOwner[o.Owner]; ok {
		owned.Remove(o.ID)
		if owned.Empty() {
			delete(s.byOwner, o.Owner)
		}
	}
}

// ActiveIDs lists every live order id in ascending order.
func (s *Store) ActiveIDs() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return toIDs(s.active)
}

// ActiveIDsOf lists the live order ids of owner in ascending order.
func (s *Store) ActiveIDsOf(owner common.Address) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned, ok := s.byOwner[owner]
	if !ok {
		return []uint64{}
	}
	return toIDs(owned)
}

// OrdersOf returns the live orders of owner in id order.
func (s *Store) OrdersOf(owner common.Address) []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned, ok := s.byOwner[owner]
	if !ok {
		return nil
	}
	out := make([]Order, 0, owned.Size())
	for _, id := range toIDs(owned) {
		out = append(out, s.orders[id])
	}
	return out
}

// All returns every live order in id order.
func (s *Store) All() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Order, 0, len(s.orders))
	for _, id := range toIDs(s.active) {
		out = append(out, s.orders[id])
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

func toIDs(set *treeset.Set) []uint64 {
	values := set.Values()
	ids := make([]uint64, len(values))
	for i, v := range values {
		ids[i] = v.(uint64)
	}
	return ids
}
