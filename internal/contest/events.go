package contest

import (
	"time"

	"typeflow/internal/rooms"
)

// Server-to-client event names.
const (
	EventRoomUpdated    = "room:updated"
	EventUserJoined     = "user:joined"
	EventUserLeft       = "user:left"
	EventRoomStarted    = "room:started"
	EventProgressUpdate = "progress:update"
	EventUserFinished   = "user:finished"
	EventRoomFinished   = "room:finished"
	EventRoomDeleted    = "room:deleted"
)

type RoomUpdatedPayload struct {
	Participants []rooms.Participant `json:"participants"`
	Status       rooms.Status        `json:"status"`
}

type UserJoinedPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type UserLeftPayload struct {
	UserID string `json:"userId"`
}

type RoomStartedPayload struct {
	TestText  string    `json:"testText"`
	StartedAt time.Time `json:"startedAt"`
}

type UserFinishedPayload struct {
	UserID      string  `json:"userId"`
	WPM         float64 `json:"wpm"`
	Accuracy    float64 `json:"accuracy"`
	ElapsedTime float64 `json:"elapsedTime"`
}

type RoomFinishedPayload struct {
	FinishedAt time.Time `json:"finishedAt"`
}

type RoomDeletedPayload struct {
	Message string `json:"message"`
}
