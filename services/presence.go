package services

import (
	"sort"
	"sync"

	"tutorhub/signaling/models"
)

// Conn is a live real-time connection as seen by the core. Send must not block;
// it reports false when the event could not be queued.
type Conn interface {
	ID() string
	Send(event models.Event) bool
}

// PresenceSnapshot is the set of online users after a registry mutation.
type PresenceSnapshot struct {
	Version uint64
	Users   []string
}

// Presence is the registry contract consumed by the coordinator.
type Presence interface {
	Register(userID string, conn Conn) (previous Conn, snapshot PresenceSnapshot)
	Lookup(userID string) (Conn, bool)
	UserOf(conn Conn) (string, bool)
	Unregister(conn Conn) (userID string, snapshot PresenceSnapshot, removed bool)
	Online() PresenceSnapshot
}

// Registry maps each user to the single connection that currently represents
// them. The entry doubles as the user's room: sending to user X means sending
// to whatever connection Lookup(X) returns.
type Registry struct {
	mu      sync.RWMutex
	users   map[string]Conn
	version uint64
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[string]Conn)}
}

// Register binds userID to conn, displacing any earlier connection for the
// same user. The displaced handle is returned but is not notified. A
// connection represents at most one user, so any other entry conn held is
// dropped.
func (r *Registry) Register(userID string, conn Conn) (Conn, PresenceSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, ok := r.users[userID]
	if ok && previous == conn {
		return nil, r.snapshotLocked()
	}
	for other, held := range r.users {
		if held == conn {
			delete(r.users, other)
		}
	}
	r.users[userID] = conn
	r.version++
	if !ok {
		previous = nil
	}
	return previous, r.snapshotLocked()
}

func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.users[userID]
	return conn, ok
}

// UserOf returns the user whose entry conn currently holds. A superseded
// connection holds none.
func (r *Registry) UserOf(conn Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for userID, held := range r.users {
		if held == conn {
			return userID, true
		}
	}
	return "", false
}

// Unregister removes every entry held by conn. A connection that was already
// superseded owns no entry, so nothing is removed for it.
func (r *Registry) Unregister(conn Conn) (string, PresenceSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed string
	for userID, held := range r.users {
		if held == conn {
			delete(r.users, userID)
			removed = userID
		}
	}
	if removed == "" {
		return "", r.snapshotLocked(), false
	}
	r.version++
	return removed, r.snapshotLocked(), true
}

func (r *Registry) Online() PresenceSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() PresenceSnapshot {
	users := make([]string, 0, len(r.users))
	for userID := range r.users {
		users = append(users, userID)
	}
	sort.Strings(users)
	return PresenceSnapshot{Version: r.version, Users: users}
}
