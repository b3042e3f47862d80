package core

import (
	"context"
	"slices"
	"sync"
)

// Registry owns every room, the default-room subset and the live connection
// map. A single mutex guards all of it: validation and mutation happen under
// the same critical section, and no network I/O is done while it is held.
type Registry struct {
	mu sync.Mutex

	rooms    map[string]*Room
	order    []string // room names in creation order
	defaults map[string]struct{}
	live     map[string]*Connection
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		defaults: make(map[string]struct{}),
		live:     make(map[string]*Connection),
	}
}

// CreateRoom creates the room, replacing any room of the same name together
// with its membership. The default flag follows the latest call. A replaced
// room keeps its original position in the iteration order.
func (r *Registry) CreateRoom(name string, isDefault bool) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := newRoom(r, name)
	if _, exists := r.rooms[name]; !exists {
		r.order = append(r.order, name)
	}
	r.rooms[name] = room

	if isDefault {
		r.defaults[name] = struct{}{}
	} else {
		delete(r.defaults, name)
	}
	return room
}

// DeleteRoom removes the room and its default flag. It reports whether the
// room existed.
func (r *Registry) DeleteRoom(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[name]; !ok {
		return false
	}
	delete(r.rooms, name)
	delete(r.defaults, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	return true
}

// Room looks a room up by name. The returned room stops accepting
// membership changes once CreateRoom replaces it or DeleteRoom removes it.
func (r *Registry) Room(name string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[name]
	return room, ok
}

// AddMember adds aid to the named room.
func (r *Registry) AddMember(roomName, aid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomName]
	if !ok {
		return ErrRoomNotFound
	}
	room.addMember(aid)
	return nil
}

// RemoveMember removes aid from the named room.
func (r *Registry) RemoveMember(roomName, aid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomName]
	if !ok {
		return ErrRoomNotFound
	}
	return room.removeMember(aid)
}

// RoomsContaining lists, in iteration order, every room aid is a member of.
func (r *Registry) RoomsContaining(aid string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomsContaining(aid)
}

// JoinDefaultRooms adds aid to every default room.
func (r *Registry) JoinDefaultRooms(aid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joinDefaultRooms(aid)
}

// RegisterConnection makes c reachable for broadcasts: it becomes the live
// connection for its identifier (replacing, not closing, any previous one)
// and joins the default rooms. The returned names are every room c belongs
// to; the caller reports them to the client.
func (r *Registry) RegisterConnection(c *Connection) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.live[c.AID] = c
	r.joinDefaultRooms(c.AID)
	return r.roomsContaining(c.AID)
}

// UnregisterConnection drops c from the live map if it is still the live
// connection for its identifier. Room membership is left untouched.
func (r *Registry) UnregisterConnection(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.live[c.AID]; !ok || current != c {
		return false
	}
	delete(r.live, c.AID)
	return true
}

// Connection returns the live connection for aid.
func (r *Registry) Connection(aid string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.live[aid]
	return c, ok
}

// LiveCount returns the number of live connections.
func (r *Registry) LiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// ListRoomNames returns every room name in iteration order.
func (r *Registry) ListRoomNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// DefaultRoomNames returns the default rooms in iteration order.
func (r *Registry) DefaultRoomNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.defaults))
	for _, name := range r.order {
		if _, ok := r.defaults[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// SendToRoom broadcasts message from sender to roomName. Nothing is sent and
// ok is false when the room does not exist or sender is not a member.
func (r *Registry) SendToRoom(ctx context.Context, sender *Connection, roomName, message string) (res BroadcastResult, ok bool) {
	r.mu.Lock()
	room, exists := r.rooms[roomName]
	if !exists || !room.contains(sender.AID) {
		r.mu.Unlock()
		return BroadcastResult{}, false
	}
	recipients := room.liveMembers()
	r.mu.Unlock()

	return deliver(ctx, recipients, newEnvelope(sender, message)), true
}

func (r *Registry) roomsContaining(aid string) []string {
	out := make([]string, 0)
	for _, name := range r.order {
		if r.rooms[name].contains(aid) {
			out = append(out, name)
		}
	}
	return out
}

func (r *Registry) joinDefaultRooms(aid string) {
	for name := range r.defaults {
		r.rooms[name].addMember(aid)
	}
}
