package proto

// ClientRequest is one decoded client channel frame.
type ClientRequest interface {
	clientRequest()
}

// Authenticate asks to exchange an identifier for a verified identity.
type Authenticate struct {
	AID string
}

// SendMessage asks to broadcast Message to Room.
type SendMessage struct {
	Room    string
	Message string
}

// MasterRequest is one decoded master channel frame.
type MasterRequest interface {
	masterRequest()
}

// Register asks for master privileges for AID.
type Register struct {
	AID string
}

// CreateRoom creates or replaces a room.
type CreateRoom struct {
	Name    string
	Default bool
}

// AddToRoom adds AID to Room.
type AddToRoom struct {
	Room string
	AID  string
}

// RemoveFromRoom removes AID from Room.
type RemoveFromRoom struct {
	Room string
	AID  string
}

// DeleteRoom deletes a room.
type DeleteRoom struct {
	Name string
}

// ListRooms asks for every room name.
type ListRooms struct{}

// Ignored is any frame that is not a well-formed known request. Reason is
// for logs only and never sent back.
type Ignored struct {
	Reason string
}

func (Authenticate) clientRequest() {}
func (SendMessage) clientRequest()  {}
func (Ignored) clientRequest()      {}

func (Register) masterRequest()       {}
func (CreateRoom) masterRequest()     {}
func (AddToRoom) masterRequest()      {}
func (RemoveFromRoom) masterRequest() {}
func (DeleteRoom) masterRequest()     {}
func (ListRooms) masterRequest()      {}
func (Ignored) masterRequest()        {}

// DecodeClient decodes a client channel frame. Missing string fields read
// as empty strings; fields of the wrong type make the frame Ignored.
func DecodeClient(data []byte) ClientRequest {
	f := parseFields(data)

	request, _, ok := f.str("request")
	if !ok {
		return Ignored{Reason: "request is not a string"}
	}

	switch request {
	case RequestAuthenticate:
		aid, _, ok := f.str("aid")
		if !ok || aid == "" {
			return Ignored{Reason: "missing aid"}
		}
		return Authenticate{AID: aid}
	case RequestSendMessage:
		room, _, roomOK := f.str("room")
		message, _, msgOK := f.str("message")
		if !roomOK || !msgOK {
			return Ignored{Reason: "malformed send_message"}
		}
		return SendMessage{Room: room, Message: message}
	default:
		return Ignored{Reason: "unknown request " + quoteReason(request)}
	}
}

// DecodeMaster decodes a master channel frame. Every field a route needs
// must be present with the right type.
func DecodeMaster(data []byte) MasterRequest {
	f := parseFields(data)

	route, ok := f.requireString("route")
	if !ok {
		return Ignored{Reason: "missing route"}
	}

	switch route {
	case RouteRegister:
		aid, ok := f.requireString("aid")
		if !ok {
			return Ignored{Reason: "malformed register"}
		}
		return Register{AID: aid}
	case RouteCreateRoom:
		name, nameOK := f.requireString("room_name")
		isDefault, defaultOK := f.requireBool("default_room")
		if !nameOK || !defaultOK {
			return Ignored{Reason: "malformed create_room"}
		}
		return CreateRoom{Name: name, Default: isDefault}
	case RouteAddToRoom:
		room, roomOK := f.requireString("room_name")
		aid, aidOK := f.requireString("aid")
		if !roomOK || !aidOK {
			return Ignored{Reason: "malformed add_to_room"}
		}
		return AddToRoom{Room: room, AID: aid}
	case RouteRemoveFromRoom:
		room, roomOK := f.requireString("room_name")
		aid, aidOK := f.requireString("aid")
		if !roomOK || !aidOK {
			return Ignored{Reason: "malformed remove_from_room"}
		}
		return RemoveFromRoom{Room: room, AID: aid}
	case RouteDeleteRoom:
		name, ok := f.requireString("room_name")
		if !ok {
			return Ignored{Reason: "malformed delete_room"}
		}
		return DeleteRoom{Name: name}
	case RouteRoomList:
		return ListRooms{}
	default:
		return Ignored{Reason: "unknown route " + quoteReason(route)}
	}
}

func quoteReason(s string) string {
	const maxLen = 32
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return `"` + s + `"`
}
