package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a room or membership row does not exist.
var ErrNotFound = errors.New("not found")

// Room is a persisted room and its member identifiers.
type Room struct {
	Name    string
	Default bool
	Members []string
}

// TopologyStore persists rooms and membership so they survive a restart.
// Live connections and messages are never stored.
type TopologyStore interface {
	// SaveRoom creates or replaces a room, dropping any stored membership.
	SaveRoom(ctx context.Context, name string, isDefault bool) error

	// DeleteRoom removes a room and its membership.
	DeleteRoom(ctx context.Context, name string) error

	// AddMember records aid as a member of room. Adding twice is a no-op.
	AddMember(ctx context.Context, room, aid string) error

	// RemoveMember deletes a membership row.
	RemoveMember(ctx context.Context, room, aid string) error

	// LoadRooms returns every room in creation order.
	LoadRooms(ctx context.Context) ([]Room, error)

	// Close releases the underlying database.
	Close() error
}
