package rooms

import (
	"time"
)

// Status is the contest lifecycle state of a room. Transitions are
// one-way: waiting -> active -> finished.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Participant is a member of a room as recorded in the persistent store.
type Participant struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	UserImage string    `json:"userImage,omitempty"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// Settings describe how a contest is run. The server never interprets
// them; clients enforce the time/word limits.
type Settings struct {
	Mode       string `json:"mode"` // "time" or "words"
	TimeLimit  int    `json:"timeLimit,omitempty"`
	WordCount  int    `json:"wordCount,omitempty"`
	Difficulty string `json:"difficulty"`
}

// Record is the durable room row: the source of truth for
// authorization-relevant fields (host, status, participants).
type Record struct {
	RoomID          string        `json:"roomId"`
	Name            string        `json:"name"`
	HostUserID      string        `json:"hostUserId"`
	HostUserName    string        `json:"hostUserName"`
	HostUserImage   string        `json:"hostUserImage,omitempty"`
	IsPublic        bool          `json:"isPublic"`
	PasswordHash    string        `json:"-"`
	Settings        Settings      `json:"settings"`
	Status          Status        `json:"status"`
	Participants    []Participant `json:"participants"`
	MaxParticipants int           `json:"maxParticipants"`
	CreatedAt       time.Time     `json:"createdAt"`
	StartedAt       *time.Time    `json:"startedAt,omitempty"`
	EndedAt         *time.Time    `json:"endedAt,omitempty"`
	TestText        string        `json:"testText,omitempty"`
}

// HasParticipant reports whether userID is currently a member.
func (r *Record) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Progress is one live typing tick. Client-reported and unverified;
// never persisted.
type Progress struct {
	UserID    string  `json:"userId"`
	UserName  string  `json:"userName"`
	WordIndex int     `json:"currentWordIndex"`
	CharIndex int     `json:"charIndex"`
	WPM       float64 `json:"wpm"`
	Accuracy  float64 `json:"accuracy"`
	Percent   float64 `json:"progress"`
}

// Result is one participant's finished-contest outcome.
type Result struct {
	ID          string    `json:"id,omitempty"`
	RoomID      string    `json:"roomId"`
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName"`
	UserImage   string    `json:"userImage,omitempty"`
	WPM         float64   `json:"wpm"`
	Accuracy    float64   `json:"accuracy"`
	ElapsedTime float64   `json:"elapsedTime"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"createdAt"`
}
