// Package proto defines the JSON frames exchanged on the client and master
// channels and decodes inbound frames into typed requests.
//
// Decoding never fails. Malformed JSON is treated as an empty object, and
// anything that does not match a known request decodes to Ignored.
package proto

import "encoding/json"

// Client channel request names.
const (
	RequestAuthenticate = "authenticate"
	RequestRoomList     = "room_list"
	RequestSendMessage  = "send_message"
)

// Master channel routes.
const (
	RouteRegister       = "register"
	RouteCreateRoom     = "create_room"
	RouteAddToRoom      = "add_to_room"
	RouteRemoveFromRoom = "remove_from_room"
	RouteDeleteRoom     = "delete_room"
	RouteRoomList       = "room_list"
)

// AuthResult answers a successful client authenticate request.
type AuthResult struct {
	Request       string `json:"request"`
	Authenticated bool   `json:"authenticated"`
}

// NewAuthResult builds the client authentication reply.
func NewAuthResult(ok bool) AuthResult {
	return AuthResult{Request: RequestAuthenticate, Authenticated: ok}
}

// RoomList tells a client which rooms it belongs to.
type RoomList struct {
	Request string   `json:"request"`
	Rooms   []string `json:"rooms"`
}

// NewRoomList builds a client room snapshot.
func NewRoomList(rooms []string) RoomList {
	return RoomList{Request: RequestRoomList, Rooms: nonNil(rooms)}
}

// MasterAuthResult answers a master register request.
type MasterAuthResult struct {
	Authenticated bool `json:"authenticated"`
}

// MasterRoomList answers a master room_list request.
type MasterRoomList struct {
	Route string   `json:"route"`
	Rooms []string `json:"rooms"`
}

// NewMasterRoomList builds the master room listing.
func NewMasterRoomList(rooms []string) MasterRoomList {
	return MasterRoomList{Route: RouteRoomList, Rooms: nonNil(rooms)}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// fields is a decoded JSON object. A frame that is not an object decodes to
// an empty fields value.
type fields map[string]json.RawMessage

func parseFields(data []byte) fields {
	var f fields
	if err := json.Unmarshal(data, &f); err != nil || f == nil {
		return fields{}
	}
	return f
}

// str returns the string at key. present is false when the key is missing;
// ok is false when the key holds something other than a string.
func (f fields) str(key string) (value string, present, ok bool) {
	raw, present := f[key]
	if !present {
		return "", false, true
	}
	if err := json.Unmarshal(raw, &value); err != nil || isNull(raw) {
		return "", true, false
	}
	return value, true, true
}

func (f fields) requireString(key string) (string, bool) {
	v, present, ok := f.str(key)
	return v, present && ok
}

func (f fields) requireBool(key string) (value, ok bool) {
	raw, present := f[key]
	if !present || isNull(raw) {
		return false, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return false, false
	}
	return value, true
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}
