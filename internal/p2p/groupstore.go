package p2p

import (
	"errors"
	"fmt"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DeleteListener is told about every group that leaves a GroupStore, whether
// by eviction, Remove or Clear. It runs synchronously inside the call that
// removed the group, after the store has already dropped it.
type DeleteListener interface {
	OnDeleteGroup(networkID int) error
}

// DeleteListenerFunc adapts a function to DeleteListener.
type DeleteListenerFunc func(networkID int) error

func (f DeleteListenerFunc) OnDeleteGroup(networkID int) error { return f(networkID) }

// GroupStore is a capacity-bounded, recency-ordered set of persistent groups
// keyed by network id. Only Add counts as a use; lookups leave the eviction
// order alone. It is not safe for concurrent use.
type GroupStore struct {
	lru      *simplelru.LRU[int, Group]
	listener DeleteListener
	capacity int

	// errs collects listener failures during one mutating call.
	errs []error
}

// NewGroupStore returns an empty store holding at most capacity groups.
// listener may be nil.
func NewGroupStore(capacity int, listener DeleteListener) (*GroupStore, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("group store capacity %d: %w", capacity, ErrInvalidArgument)
	}
	s := &GroupStore{listener: listener, capacity: capacity}
	l, err := simplelru.NewLRU[int, Group](capacity, s.onEvict)
	if err != nil {
		return nil, fmt.Errorf("group store: %w", err)
	}
	s.lru = l
	return s, nil
}

func (s *GroupStore) onEvict(id int, _ Group) {
	if s.listener == nil {
		return
	}
	if err := s.listener.OnDeleteGroup(id); err != nil {
		s.errs = append(s.errs, fmt.Errorf("delete group %d: %w", id, err))
	}
}

func (s *GroupStore) takeErrors() error {
	err := errors.Join(s.errs...)
	s.errs = nil
	return err
}

// Add inserts g, or replaces the group with the same network id, and marks
// it most recently used. When the store is full the least recently used
// other group is evicted. The returned error only reports listener failures;
// the store is consistent either way.
func (s *GroupStore) Add(g Group) error {
	if g.NetworkID < 0 {
		return fmt.Errorf("add group %q: network id %d is not a stored id: %w",
			g.NetworkName, g.NetworkID, ErrInvalidArgument)
	}
	s.lru.Add(g.NetworkID, g.Clone())
	return s.takeErrors()
}

// Remove drops the group with networkID and reports whether it existed.
func (s *GroupStore) Remove(networkID int) (bool, error) {
	ok := s.lru.Remove(networkID)
	return ok, s.takeErrors()
}

// RemoveByAddress drops the first group, in store order, whose owner or any
// client has addr.
func (s *GroupStore) RemoveByAddress(addr MacAddress) (bool, error) {
	id, ok := s.NetworkID(addr)
	if !ok {
		return false, nil
	}
	return s.Remove(id)
}

// Clear drops every group, notifying the listener once per group.
func (s *GroupStore) Clear() (bool, error) {
	n := s.lru.Len()
	s.lru.Purge()
	return n > 0, s.takeErrors()
}

// NetworkID returns the id of the first group, oldest first, that has addr
// as owner or client.
func (s *GroupStore) NetworkID(addr MacAddress) (int, bool) {
	return s.find(func(g *Group) bool { return g.Contains(addr) })
}

// NetworkIDFor is NetworkID restricted to groups named ssid.
func (s *GroupStore) NetworkIDFor(addr MacAddress, ssid string) (int, bool) {
	return s.find(func(g *Group) bool { return g.NetworkName == ssid && g.Contains(addr) })
}

func (s *GroupStore) find(match func(*Group) bool) (int, bool) {
	for _, id := range s.lru.Keys() {
		g, ok := s.lru.Peek(id)
		if ok && match(&g) {
			return id, true
		}
	}
	return 0, false
}

// OwnerAddress returns the owner address of the group with networkID.
func (s *GroupStore) OwnerAddress(networkID int) (MacAddress, bool) {
	g, ok := s.lru.Peek(networkID)
	if !ok || g.Owner == nil {
		return MacAddress{}, false
	}
	return g.Owner.Address, true
}

// Contains reports whether networkID is stored without touching recency.
func (s *GroupStore) Contains(networkID int) bool {
	return s.lru.Contains(networkID)
}

// Get returns a copy of the group without touching recency.
func (s *GroupStore) Get(networkID int) (Group, bool) {
	g, ok := s.lru.Peek(networkID)
	if !ok {
		return Group{}, false
	}
	return g.Clone(), true
}

// Groups returns deep copies of all groups, least recently used first.
func (s *GroupStore) Groups() []Group {
	keys := s.lru.Keys()
	out := make([]Group, 0, len(keys))
	for _, id := range keys {
		if g, ok := s.lru.Peek(id); ok {
			out = append(out, g.Clone())
		}
	}
	return out
}

func (s *GroupStore) Len() int { return s.lru.Len() }

func (s *GroupStore) Capacity() int { return s.capacity }
