package services_test

import (
	"fmt"
	"sync"
	"testing"

	"tutorhub/signaling/services"
)

func TestRegistryLatestWins(t *testing.T) {
	r := services.NewRegistry()
	first := newFakeConn("c1")
	second := newFakeConn("c2")

	prev, snap := r.Register("alice", first)
	if prev != nil {
		t.Fatalf("first register returned previous %v", prev)
	}
	if snap.Version != 1 || len(snap.Users) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	prev, snap = r.Register("alice", second)
	if prev != first {
		t.Fatalf("expected first connection to be displaced, got %v", prev)
	}
	if len(snap.Users) != 1 || snap.Users[0] != "alice" {
		t.Fatalf("expected a single alice entry, got %v", snap.Users)
	}

	got, ok := r.Lookup("alice")
	if !ok || got != second {
		t.Fatalf("lookup returned %v, %v", got, ok)
	}

	// The displaced handle owns nothing, so its disconnect must not evict alice.
	if _, _, removed := r.Unregister(first); removed {
		t.Fatalf("unregistering a superseded connection removed an entry")
	}
	if _, ok := r.Lookup("alice"); !ok {
		t.Fatalf("alice went offline after stale disconnect")
	}

	userID, snap, removed := r.Unregister(second)
	if !removed || userID != "alice" {
		t.Fatalf("unregister = %q, %v", userID, removed)
	}
	if len(snap.Users) != 0 {
		t.Fatalf("expected empty registry, got %v", snap.Users)
	}
}

func TestRegistrySameConnectionIsNoop(t *testing.T) {
	r := services.NewRegistry()
	c := newFakeConn("c1")
	r.Register("alice", c)
	before := r.Online().Version

	prev, snap := r.Register("alice", c)
	if prev != nil {
		t.Fatalf("re-registering the same handle returned previous %v", prev)
	}
	if snap.Version != before {
		t.Fatalf("version moved from %d to %d on a no-op", before, snap.Version)
	}
}

func TestRegistryVersionIsMonotonic(t *testing.T) {
	r := services.NewRegistry()
	var last uint64
	for i := 0; i < 5; i++ {
		_, snap := r.Register(fmt.Sprintf("user-%d", i), newFakeConn(fmt.Sprintf("c%d", i)))
		if snap.Version <= last {
			t.Fatalf("version %d did not increase past %d", snap.Version, last)
		}
		last = snap.Version
	}
	if got := r.Online().Users; len(got) != 5 || got[0] != "user-0" {
		t.Fatalf("expected sorted users, got %v", got)
	}
}

func TestRegistryConcurrentReconnects(t *testing.T) {
	r := services.NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newFakeConn(fmt.Sprintf("c%d", i))
			r.Register("alice", c)
			r.Lookup("alice")
			if i%2 == 0 {
				r.Unregister(c)
			}
		}(i)
	}
	wg.Wait()

	count := 0
	for _, u := range r.Online().Users {
		if u == "alice" {
			count++
		}
	}
	if count > 1 {
		t.Fatalf("alice has %d presence entries", count)
	}
}

func TestRegistryOneEntryPerConnection(t *testing.T) {
	r := services.NewRegistry()
	c := newFakeConn("c1")

	r.Register("alice", c)
	_, snap := r.Register("bob", c)
	if len(snap.Users) != 1 || snap.Users[0] != "bob" {
		t.Fatalf("expected the connection to hold only bob, got %v", snap.Users)
	}
	if _, ok := r.Lookup("alice"); ok {
		t.Fatalf("alice still routed to a connection that moved to bob")
	}
	if userID, ok := r.UserOf(c); !ok || userID != "bob" {
		t.Fatalf("UserOf = %q, %v", userID, ok)
	}

	if _, snap, removed := r.Unregister(c); !removed || len(snap.Users) != 0 {
		t.Fatalf("disconnect left %v online", snap.Users)
	}
	if _, ok := r.UserOf(c); ok {
		t.Fatalf("departed connection still holds an entry")
	}
}
