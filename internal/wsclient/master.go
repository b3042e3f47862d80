// Package wsclient holds Go clients for the relay's websocket channels.
//
// Neither client runs a background reader. The master channel only answers
// register and room_list, and the client channel only pushes envelopes once
// authenticated, so each call reads exactly the frames it expects. A read
// whose context expires closes the underlying connection.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/synergy/internal/proto"
)

// ErrNotRegistered is returned by Master operations attempted before a
// successful Register. The server would ignore them silently.
var ErrNotRegistered = errors.New("wsclient: master not registered")

// Master is a client of the privileged control channel.
type Master struct {
	conn       *websocket.Conn
	registered bool
}

type registerRequest struct {
	Route string `json:"route"`
	AID   string `json:"aid"`
}

type createRoomRequest struct {
	Route       string `json:"route"`
	RoomName    string `json:"room_name"`
	DefaultRoom bool   `json:"default_room"`
}

type memberRequest struct {
	Route    string `json:"route"`
	RoomName string `json:"room_name"`
	AID      string `json:"aid"`
}

type roomRequest struct {
	Route    string `json:"route"`
	RoomName string `json:"room_name,omitempty"`
}

// DialMaster connects to the master channel, e.g. ws://localhost:4545/master.
func DialMaster(ctx context.Context, url string) (*Master, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Master{conn: conn}, nil
}

// Register authenticates the session with aid and reports whether the
// identity service granted master privileges. Once registered, further
// calls return true without touching the wire.
func (m *Master) Register(ctx context.Context, aid string) (bool, error) {
	if m.registered {
		return true, nil
	}
	if err := wsjson.Write(ctx, m.conn, registerRequest{Route: proto.RouteRegister, AID: aid}); err != nil {
		return false, fmt.Errorf("send register: %w", err)
	}

	var res proto.MasterAuthResult
	if err := wsjson.Read(ctx, m.conn, &res); err != nil {
		return false, fmt.Errorf("read register result: %w", err)
	}
	m.registered = res.Authenticated
	return res.Authenticated, nil
}

// Registered reports whether Register succeeded.
func (m *Master) Registered() bool {
	return m.registered
}

// CreateRoom creates or resets a room.
func (m *Master) CreateRoom(ctx context.Context, name string, isDefault bool) error {
	return m.write(ctx, createRoomRequest{Route: proto.RouteCreateRoom, RoomName: name, DefaultRoom: isDefault})
}

// AddToRoom adds aid to room's membership.
func (m *Master) AddToRoom(ctx context.Context, room, aid string) error {
	return m.write(ctx, memberRequest{Route: proto.RouteAddToRoom, RoomName: room, AID: aid})
}

// RemoveFromRoom removes aid from room's membership.
func (m *Master) RemoveFromRoom(ctx context.Context, room, aid string) error {
	return m.write(ctx, memberRequest{Route: proto.RouteRemoveFromRoom, RoomName: room, AID: aid})
}

// DeleteRoom removes a room.
func (m *Master) DeleteRoom(ctx context.Context, name string) error {
	return m.write(ctx, roomRequest{Route: proto.RouteDeleteRoom, RoomName: name})
}

// Rooms returns every room name in creation order. Because the server
// handles frames in order, the answer reflects all mutations sent before it.
func (m *Master) Rooms(ctx context.Context) ([]string, error) {
	if err := m.write(ctx, roomRequest{Route: proto.RouteRoomList}); err != nil {
		return nil, err
	}

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, m.conn, &raw); err != nil {
			return nil, fmt.Errorf("read room list: %w", err)
		}
		var list proto.MasterRoomList
		if err := json.Unmarshal(raw, &list); err != nil || list.Route != proto.RouteRoomList {
			continue
		}
		if list.Rooms == nil {
			list.Rooms = []string{}
		}
		return list.Rooms, nil
	}
}

// Close closes the connection.
func (m *Master) Close() error {
	return m.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (m *Master) write(ctx context.Context, v any) error {
	if !m.registered {
		return ErrNotRegistered
	}
	if err := wsjson.Write(ctx, m.conn, v); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}
