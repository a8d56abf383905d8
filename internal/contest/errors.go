package contest

import "errors"

// Operation errors returned through the caller's ack; never broadcast to
// other room members.
var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomNotAccepting = errors.New("room is not accepting new participants")
	ErrRoomFull         = errors.New("room is full")
	ErrAlreadyJoined    = errors.New("already in this room")
	ErrPasswordRequired = errors.New("password required")
	ErrInvalidPassword  = errors.New("invalid password")
	ErrForbidden        = errors.New("only the host can do that")
	ErrInvalidState     = errors.New("contest already started or finished")
	ErrNotInRoom        = errors.New("not in room")
)
