package wsclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/synergy/internal/core"
	"github.com/vovakirdan/synergy/internal/proto"
)

// Chat is a client of the client channel.
type Chat struct {
	conn *websocket.Conn
}

type authenticateRequest struct {
	Request string `json:"request"`
	AID     string `json:"aid"`
}

type sendMessageRequest struct {
	Request string `json:"request"`
	Room    string `json:"room"`
	Message string `json:"message"`
}

// DialChat connects to the client channel, e.g. ws://localhost:4545/ws.
func DialChat(ctx context.Context, url string) (*Chat, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Chat{conn: conn}, nil
}

// Authenticate performs the handshake and returns the rooms the identifier
// belongs to. The server does not answer a rejected identifier, so rejection
// surfaces as ctx expiring.
func (c *Chat) Authenticate(ctx context.Context, aid string) ([]string, error) {
	if err := wsjson.Write(ctx, c.conn, authenticateRequest{Request: proto.RequestAuthenticate, AID: aid}); err != nil {
		return nil, fmt.Errorf("send authenticate: %w", err)
	}

	var res proto.AuthResult
	if err := wsjson.Read(ctx, c.conn, &res); err != nil {
		return nil, fmt.Errorf("read auth result: %w", err)
	}
	if res.Request != proto.RequestAuthenticate || !res.Authenticated {
		return nil, fmt.Errorf("unexpected auth reply %+v", res)
	}

	var list proto.RoomList
	if err := wsjson.Read(ctx, c.conn, &list); err != nil {
		return nil, fmt.Errorf("read room list: %w", err)
	}
	if list.Rooms == nil {
		list.Rooms = []string{}
	}
	return list.Rooms, nil
}

// Send posts message to room. Nothing comes back when the caller is not a
// member of room.
func (c *Chat) Send(ctx context.Context, room, message string) error {
	if err := wsjson.Write(ctx, c.conn, sendMessageRequest{Request: proto.RequestSendMessage, Room: room, Message: message}); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Receive blocks for the next broadcast envelope. Frames that are not
// envelopes are skipped.
func (c *Chat) Receive(ctx context.Context) (core.Envelope, error) {
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, c.conn, &raw); err != nil {
			return core.Envelope{}, err
		}
		var env core.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Color == "" {
			continue
		}
		return env, nil
	}
}

// Close closes the connection.
func (c *Chat) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
