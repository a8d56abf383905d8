package rooms

import (
	"sync"
	"sync/atomic"
	"time"

	"typeflow/internal/wshub"
)

// Room is the in-memory coordination state for one active room: a
// rebuildable cache of the persistent record plus everything ephemeral
// (live connections, progress ticks). One instance exists per room with
// at least one live connection.
//
// The embedded mutex serializes every event for the room. Callers hold it
// across the whole read-mutate-persist-broadcast sequence; the exported
// fields below it must only be touched under the lock.
type Room struct {
	sync.Mutex

	Code      string
	Hub       *wshub.Hub
	CreatedAt time.Time

	Status       Status
	HostUserID   string
	Participants []Participant
	Progress     map[string]Progress
	FinishCount  int

	closed atomic.Bool
}

// Closed reports whether the room has been removed from the registry. A
// caller that acquired the room before removal must not act on it.
func (r *Room) Closed() bool {
	return r.closed.Load()
}

// SetParticipants replaces the cached participant list from the
// persistent record. Call with the room locked.
func (r *Room) SetParticipants(ps []Participant) {
	r.Participants = make([]Participant, len(ps))
	copy(r.Participants, ps)
}

const sweepInterval = 5 * time.Minute

// Registry is the process-wide store of active in-memory room state,
// addressed by room code. Safe for concurrent use from all
// connection-handling paths.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*Room
	staleTTL time.Duration
}

// NewRegistry creates a Registry. Rooms with no live connections are
// swept after staleTTL; zero disables sweeping.
func NewRegistry(staleTTL time.Duration) *Registry {
	s := &Registry{
		rooms:    make(map[string]*Room),
		staleTTL: staleTTL,
	}
	if staleTTL > 0 {
		go s.sweepStale()
	}
	return s
}

// Get returns the room state, or nil if none exists. No side effects.
func (s *Registry) Get(code string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[code]
}

// GetOrCreate returns the existing state for code, or creates it seeded
// from the persistent record's status and participants. The seed values
// are only applied on creation.
func (s *Registry) GetOrCreate(code string, status Status, participants []Participant) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room, ok := s.rooms[code]; ok {
		return room
	}

	room := &Room{
		Code:      code,
		Hub:       wshub.NewHub(),
		CreatedAt: time.Now(),
		Status:    status,
		Progress:  make(map[string]Progress),
	}
	room.SetParticipants(participants)
	s.rooms[code] = room
	return room
}

// Remove deletes the entry and marks it closed. No-op for a missing code.
func (s *Registry) Remove(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[code]; ok {
		room.closed.Store(true)
		delete(s.rooms, code)
	}
}

// List returns a snapshot of all active rooms.
func (s *Registry) List() []*Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		list = append(list, r)
	}
	return list
}

// Len returns the number of active rooms.
func (s *Registry) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

func (s *Registry) sweepStale() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		now := time.Now()
		for code, room := range s.rooms {
			if room.Hub.Len() == 0 && now.Sub(room.CreatedAt) > s.staleTTL {
				room.closed.Store(true)
				delete(s.rooms, code)
			}
		}
		s.mu.Unlock()
	}
}
