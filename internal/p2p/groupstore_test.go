package p2p

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type deleteRecorder struct {
	ids []int
	err error
}

func (r *deleteRecorder) OnDeleteGroup(id int) error {
	r.ids = append(r.ids, id)
	return r.err
}

func newTestGroupStore(t *testing.T, capacity int) (*GroupStore, *deleteRecorder) {
	t.Helper()
	rec := &deleteRecorder{}
	s, err := NewGroupStore(capacity, rec)
	if err != nil {
		t.Fatal(err)
	}
	return s, rec
}

func testGroup(id int, ssid string, owner MacAddress, clients ...MacAddress) Group {
	g := Group{NetworkName: ssid, NetworkID: id, IsOwner: true}
	g.SetOwner(NewDevice(owner))
	for _, c := range clients {
		g.AddClient(NewDevice(c))
	}
	return g
}

func TestNewGroupStoreCapacity(t *testing.T) {
	if _, err := NewGroupStore(0, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
	s, err := NewGroupStore(3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.Capacity() != 3 {
		t.Errorf("capacity = %d, want 3", s.Capacity())
	}
}

func TestGroupStoreEvictsLRU(t *testing.T) {
	s, rec := newTestGroupStore(t, 2)
	s.Add(testGroup(0, "a", addrA))
	s.Add(testGroup(1, "b", addrB))
	// Touch 0 so 1 becomes the eviction candidate.
	s.Add(testGroup(0, "a", addrA))
	if err := s.Add(testGroup(2, "c", addrC)); err != nil {
		t.Fatal(err)
	}

	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}
	if len(rec.ids) != 1 || rec.ids[0] != 1 {
		t.Errorf("deleted = %v, want [1]", rec.ids)
	}
	if s.Contains(1) {
		t.Error("evicted group still present")
	}

	groups := s.Groups()
	if groups[0].NetworkID != 0 || groups[1].NetworkID != 2 {
		t.Errorf("order = [%d %d], want [0 2]", groups[0].NetworkID, groups[1].NetworkID)
	}
}

func TestGroupStoreReplaceDoesNotNotify(t *testing.T) {
	s, rec := newTestGroupStore(t, 2)
	s.Add(testGroup(5, "a", addrA))
	s.Add(testGroup(5, "renamed", addrA))
	if len(rec.ids) != 0 {
		t.Errorf("deleted = %v, want none", rec.ids)
	}
	g, ok := s.Get(5)
	if !ok || g.NetworkName != "renamed" {
		t.Errorf("group = %+v, %v", g, ok)
	}
}

func TestGroupStoreRejectsSentinelIDs(t *testing.T) {
	s, _ := newTestGroupStore(t, 2)
	for _, id := range []int{NetworkIDTemporary, NetworkIDPersistent} {
		if err := s.Add(testGroup(id, "x", addrA)); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Add(id %d) err = %v, want ErrInvalidArgument", id, err)
		}
	}
	if s.Len() != 0 {
		t.Errorf("len = %d, want 0", s.Len())
	}
}

func TestGroupStoreContainsDoesNotTouch(t *testing.T) {
	s, rec := newTestGroupStore(t, 2)
	s.Add(testGroup(0, "a", addrA))
	s.Add(testGroup(1, "b", addrB))
	for i := 0; i < 5; i++ {
		s.Contains(0)
		s.Get(0)
		s.OwnerAddress(0)
		s.NetworkID(addrA)
	}
	s.Add(testGroup(2, "c", addrC))
	if len(rec.ids) != 1 || rec.ids[0] != 0 {
		t.Errorf("deleted = %v, want [0]", rec.ids)
	}
}

func TestGroupStoreRemove(t *testing.T) {
	s, rec := newTestGroupStore(t, 4)
	s.Add(testGroup(0, "a", addrA))
	s.Add(testGroup(1, "b", addrB, addrC))

	ok, err := s.Remove(0)
	if err != nil || !ok {
		t.Fatalf("Remove(0) = %v, %v", ok, err)
	}
	if ok, _ := s.Remove(0); ok {
		t.Error("Remove(missing) = true")
	}

	ok, err = s.RemoveByAddress(addrC)
	if err != nil || !ok {
		t.Fatalf("RemoveByAddress(client) = %v, %v", ok, err)
	}
	if ok, _ := s.RemoveByAddress(addrC); ok {
		t.Error("RemoveByAddress(missing) = true")
	}
	if len(rec.ids) != 2 || rec.ids[0] != 0 || rec.ids[1] != 1 {
		t.Errorf("deleted = %v, want [0 1]", rec.ids)
	}
}

func TestGroupStoreClear(t *testing.T) {
	s, rec := newTestGroupStore(t, 4)
	if ok, _ := s.Clear(); ok {
		t.Error("Clear(empty) = true")
	}
	s.Add(testGroup(0, "a", addrA))
	s.Add(testGroup(1, "b", addrB))
	s.Add(testGroup(2, "c", addrC))
	ok, err := s.Clear()
	if err != nil || !ok {
		t.Fatalf("Clear = %v, %v", ok, err)
	}
	if s.Len() != 0 {
		t.Errorf("len = %d, want 0", s.Len())
	}
	seen := map[int]bool{}
	for _, id := range rec.ids {
		seen[id] = true
	}
	if len(rec.ids) != 3 || len(seen) != 3 {
		t.Errorf("deleted = %v, want each of 0,1,2 once", rec.ids)
	}
}

func TestGroupStoreListenerErrors(t *testing.T) {
	s, rec := newTestGroupStore(t, 1)
	rec.err = errors.New("profile locked")
	s.Add(testGroup(0, "a", addrA))

	err := s.Add(testGroup(1, "b", addrB))
	if err == nil || !errors.Is(err, rec.err) {
		t.Fatalf("err = %v, want listener error", err)
	}
	// The eviction still happened.
	if s.Contains(0) || !s.Contains(1) || s.Len() != 1 {
		t.Errorf("store inconsistent after listener error: %v", s.Groups())
	}

	// Errors do not leak into the next call.
	rec.err = nil
	if _, err := s.Remove(1); err != nil {
		t.Errorf("Remove err = %v, want nil", err)
	}
}

func TestGroupStoreLookups(t *testing.T) {
	s, _ := newTestGroupStore(t, 4)
	s.Add(testGroup(3, "DIRECT-one", addrA, addrB))
	s.Add(testGroup(7, "DIRECT-two", addrA))

	if id, ok := s.NetworkID(addrA); !ok || id != 3 {
		t.Errorf("NetworkID(A) = %d, %v; want 3 (first in store order)", id, ok)
	}
	if id, ok := s.NetworkIDFor(addrA, "DIRECT-two"); !ok || id != 7 {
		t.Errorf("NetworkIDFor(A, two) = %d, %v; want 7", id, ok)
	}
	if id, ok := s.NetworkIDFor(addrB, "DIRECT-one"); !ok || id != 3 {
		t.Errorf("NetworkIDFor(B, one) = %d, %v; want 3", id, ok)
	}
	if _, ok := s.NetworkIDFor(addrB, "DIRECT-two"); ok {
		t.Error("NetworkIDFor(B, two) matched")
	}
	if _, ok := s.NetworkIDFor(addrC, "DIRECT-one"); ok {
		t.Error("NetworkIDFor(C, one) matched")
	}
	if owner, ok := s.OwnerAddress(7); !ok || owner != addrA {
		t.Errorf("OwnerAddress(7) = %s, %v", owner, ok)
	}
	if _, ok := s.OwnerAddress(99); ok {
		t.Error("OwnerAddress(missing) ok")
	}

	// Re-adding 3 makes 7 the oldest, so 7 now wins for A.
	s.Add(testGroup(3, "DIRECT-one", addrA, addrB))
	if id, _ := s.NetworkID(addrA); id != 7 {
		t.Errorf("NetworkID(A) after touch = %d, want 7", id)
	}
}

func TestGroupStoreSnapshotIsolation(t *testing.T) {
	s, _ := newTestGroupStore(t, 2)
	g := testGroup(1, "a", addrA, addrB)
	s.Add(g)
	g.Clients[0].Name = "mutated after add"

	snap := s.Groups()
	snap[0].Clients[0].Name = "mutated snapshot"
	snap[0].Owner.Name = "mutated owner"
	s.Add(testGroup(2, "b", addrC))

	got, _ := s.Get(1)
	if got.Clients[0].Name != "" || got.Owner.Name != "" {
		t.Errorf("stored group aliased: %+v", got)
	}
	if len(snap) != 1 {
		t.Errorf("snapshot changed length to %d", len(snap))
	}
}

func TestGroupStoreCapacityProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("len stays within capacity and deletions equal overflow",
		prop.ForAll(
			func(capacity int, n int) bool {
				rec := &deleteRecorder{}
				s, err := NewGroupStore(capacity, rec)
				if err != nil {
					return false
				}
				for i := 0; i < n; i++ {
					if err := s.Add(Group{NetworkID: i}); err != nil {
						return false
					}
					if s.Len() > capacity {
						return false
					}
				}
				want := n - capacity
				if want < 0 {
					want = 0
				}
				return len(rec.ids) == want
			},
			gen.IntRange(1, 16),
			gen.IntRange(0, 64),
		))

	properties.Property("contains never changes the next eviction",
		prop.ForAll(
			func(capacity int, probes []int) bool {
				s, _ := NewGroupStore(capacity, nil)
				for i := 0; i < capacity; i++ {
					s.Add(Group{NetworkID: i})
				}
				for _, p := range probes {
					s.Contains(p % capacity)
				}
				var evicted []int
				s.listener = DeleteListenerFunc(func(id int) error {
					evicted = append(evicted, id)
					return nil
				})
				s.Add(Group{NetworkID: capacity})
				return len(evicted) == 1 && evicted[0] == 0
			},
			gen.IntRange(1, 8),
			gen.SliceOf(gen.IntRange(0, 100)),
		))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
