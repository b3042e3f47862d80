package core

import "errors"

var (
	// ErrRoomNotFound is returned when a room name is not registered.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotAMember is returned when removing an identifier a room does not hold.
	ErrNotAMember = errors.New("not a member")
)
