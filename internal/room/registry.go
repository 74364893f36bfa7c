// Package room tracks active two-party rooms. A room is created when the
// matcher pairs two waiting connections and destroyed on explicit end,
// explicit leave, or either member's disconnect. Teardown is idempotent:
// removing an already-removed room is a no-op.
package room

import (
	"sync"

	"github.com/google/uuid"
)

// Room is an active paired session. A queued earlier than B and initiates
// the peer-to-peer signaling handshake.
type Room struct {
	ID string
	A  string // initiator connection id
	B  string
}

// Peer returns the other member's connection id, or "" if connID is not a
// member of this room.
func (r *Room) Peer(connID string) string {
	if connID == r.A {
		return r.B
	}
	if connID == r.B {
		return r.A
	}
	return ""
}

// IsMember reports whether connID is one of the room's two members.
func (r *Room) IsMember(connID string) bool {
	return connID == r.A || connID == r.B
}

// Registry is a thread-safe table of active rooms keyed by room id.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates an empty room registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// Create allocates a fresh room id for the pair (a, b) and registers the
// room. a is the initiator.
func (reg *Registry) Create(a, b string) *Room {
	r := &Room{ID: uuid.New().String(), A: a, B: b}

	reg.mu.Lock()
	reg.rooms[r.ID] = r
	reg.mu.Unlock()

	return r
}

// Get returns the room with the given id, or nil if it does not exist.
func (reg *Registry) Get(roomID string) *Room {
	reg.mu.RLock()
	r := reg.rooms[roomID]
	reg.mu.RUnlock()
	return r
}

// FindByMember scans active rooms for one containing connID. Returns nil if
// the connection is not in any room. A connection belongs to at most one
// room, so the first hit is the only hit.
func (reg *Registry) FindByMember(connID string) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	for _, r := range reg.rooms {
		if r.IsMember(connID) {
			return r
		}
	}
	return nil
}

// End removes the room with the given id and returns it. The second End for
// the same id returns (nil, false), making teardown idempotent.
func (reg *Registry) End(roomID string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[roomID]
	if !ok {
		return nil, false
	}
	delete(reg.rooms, roomID)
	return r, true
}

// Count returns the number of active rooms.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	n := len(reg.rooms)
	reg.mu.RUnlock()
	return n
}
