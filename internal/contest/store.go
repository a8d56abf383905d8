package contest

import (
	"context"
	"time"

	"typeflow/internal/rooms"
)

// RoomStore is the durable room record store. It is the source of truth
// for authorization-relevant fields; the in-memory registry is a derived
// cache. GetRoom returns (nil, nil) when no record exists.
type RoomStore interface {
	GetRoom(ctx context.Context, roomID string) (*rooms.Record, error)
	AddParticipant(ctx context.Context, roomID string, p rooms.Participant) error
	RemoveParticipant(ctx context.Context, roomID, userID string) error
	SetHost(ctx context.Context, roomID string, host rooms.Participant) error
	SetStatus(ctx context.Context, roomID string, status rooms.Status, at time.Time, testText string) error
	DeleteRoom(ctx context.Context, roomID string) error
}

// ResultStore persists per-contest results for the post-contest
// leaderboard.
type ResultStore interface {
	SaveResult(ctx context.Context, res *rooms.Result) error
}
