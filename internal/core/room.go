package core

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
)

// BroadcastColor is attached to every chat envelope. Clients rely on the
// literal value.
const BroadcastColor = "green"

// Envelope is the chat message delivered to room members.
type Envelope struct {
	Author  string `json:"author"`
	Color   string `json:"color"`
	Message string `json:"message"`
}

// BroadcastResult summarises one fan-out.
type BroadcastResult struct {
	Recipients int
	Failed     int
}

// Room is a named set of member identifiers. Members need not be connected.
type Room struct {
	Name string

	reg     *Registry
	members map[string]struct{}
}

func newRoom(reg *Registry, name string) *Room {
	return &Room{
		Name:    name,
		reg:     reg,
		members: make(map[string]struct{}),
	}
}

// AddMember inserts aid into the room. Adding an existing member is a no-op.
// It returns ErrRoomNotFound once the room has been replaced or deleted.
func (r *Room) AddMember(aid string) error {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()
	if !r.attached() {
		return ErrRoomNotFound
	}
	r.addMember(aid)
	return nil
}

// RemoveMember deletes aid from the room or returns ErrNotAMember. It
// returns ErrRoomNotFound once the room has been replaced or deleted.
func (r *Room) RemoveMember(aid string) error {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()
	if !r.attached() {
		return ErrRoomNotFound
	}
	return r.removeMember(aid)
}

// Contains reports whether aid is a member.
func (r *Room) Contains(aid string) bool {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()
	return r.contains(aid)
}

// Members returns the member identifiers in sorted order.
func (r *Room) Members() []string {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()
	out := make([]string, 0, len(r.members))
	for aid := range r.members {
		out = append(out, aid)
	}
	slices.Sort(out)
	return out
}

// LiveMembers resolves members to their live connections, skipping members
// that are not connected.
func (r *Room) LiveMembers() []*Connection {
	r.reg.mu.Lock()
	defer r.reg.mu.Unlock()
	return r.liveMembers()
}

// Broadcast delivers message from sender to every live member, the sender
// included when it is a member. Deliveries run concurrently and Broadcast
// returns once all of them have finished; a failed delivery never stops the
// others and is only reported in the result.
func (r *Room) Broadcast(ctx context.Context, sender *Connection, message string) BroadcastResult {
	return deliver(ctx, r.LiveMembers(), newEnvelope(sender, message))
}

func newEnvelope(sender *Connection, message string) Envelope {
	return Envelope{
		Author:  sender.Name,
		Color:   BroadcastColor,
		Message: message,
	}
}

// attached reports whether r is still the registry's room for its name.
func (r *Room) attached() bool {
	return r.reg.rooms[r.Name] == r
}

func (r *Room) addMember(aid string) {
	r.members[aid] = struct{}{}
}

func (r *Room) removeMember(aid string) error {
	if _, ok := r.members[aid]; !ok {
		return ErrNotAMember
	}
	delete(r.members, aid)
	return nil
}

func (r *Room) contains(aid string) bool {
	_, ok := r.members[aid]
	return ok
}

func (r *Room) liveMembers() []*Connection {
	out := make([]*Connection, 0, len(r.members))
	for aid := range r.members {
		if c, ok := r.reg.live[aid]; ok {
			out = append(out, c)
		}
	}
	return out
}

// deliver must be called without the registry lock held.
func deliver(ctx context.Context, recipients []*Connection, env Envelope) BroadcastResult {
	// Recipients outlive the sender's request; a sender hanging up mid
	// broadcast must not abort writes to everyone else.
	ctx = context.WithoutCancel(ctx)

	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)
	for _, c := range recipients {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			if err := c.Send(ctx, env); err != nil {
				failed.Add(1)
			}
		}(c)
	}
	wg.Wait()

	return BroadcastResult{
		Recipients: len(recipients),
		Failed:     int(failed.Load()),
	}
}
