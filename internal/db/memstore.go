package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"typeflow/internal/rooms"
)

// MemStore is an in-memory implementation of the room and result stores.
// It backs the server when DATABASE_URL is unset (rooms do not survive a
// restart) and the contest manager tests.
type MemStore struct {
	mu      sync.Mutex
	rooms   map[string]*rooms.Record
	results []rooms.Result
}

func NewMemStore() *MemStore {
	return &MemStore{
		rooms: make(map[string]*rooms.Record),
	}
}

func cloneRecord(rec *rooms.Record) *rooms.Record {
	out := *rec
	out.Participants = make([]rooms.Participant, len(rec.Participants))
	copy(out.Participants, rec.Participants)
	return &out
}

func (s *MemStore) CreateRoom(_ context.Context, rec *rooms.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[rec.RoomID] = cloneRecord(rec)
	return nil
}

func (s *MemStore) GetRoom(_ context.Context, roomID string) (*rooms.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

func (s *MemStore) AddParticipant(_ context.Context, roomID string, p rooms.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	if !rec.HasParticipant(p.UserID) {
		rec.Participants = append(rec.Participants, p)
	}
	return nil
}

func (s *MemStore) RemoveParticipant(_ context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := rec.Participants[:0]
	for _, p := range rec.Participants {
		if p.UserID != userID {
			out = append(out, p)
		}
	}
	rec.Participants = out
	return nil
}

func (s *MemStore) SetHost(_ context.Context, roomID string, host rooms.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.rooms[roomID]; ok {
		rec.HostUserID = host.UserID
		rec.HostUserName = host.UserName
		rec.HostUserImage = host.UserImage
	}
	return nil
}

func (s *MemStore) SetStatus(_ context.Context, roomID string, status rooms.Status, at time.Time, testText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	rec.Status = status
	switch status {
	case rooms.StatusActive:
		t := at
		rec.StartedAt = &t
		rec.TestText = testText
	case rooms.StatusFinished:
		t := at
		rec.EndedAt = &t
	}
	return nil
}

func (s *MemStore) DeleteRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

func (s *MemStore) DeleteStaleRooms(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.rooms {
		if rec.Status == rooms.StatusWaiting && rec.CreatedAt.Before(cutoff) {
			delete(s.rooms, id)
			n++
		}
	}
	return n, nil
}

func (s *MemStore) ListPublicRooms(_ context.Context, limit, skip int) ([]rooms.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []rooms.Record
	for _, rec := range s.rooms {
		if rec.IsPublic && rec.Status == rooms.StatusWaiting {
			out = append(out, *cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if skip >= len(out) {
		return nil, nil
	}
	out = out[skip:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) SearchPublicRooms(_ context.Context, query string, limit int) ([]rooms.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(query)
	var out []rooms.Record
	for _, rec := range s.rooms {
		if !rec.IsPublic || rec.Status != rooms.StatusWaiting {
			continue
		}
		if strings.Contains(strings.ToLower(rec.Name), q) || rec.RoomID == strings.ToUpper(query) {
			out = append(out, *cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) SaveResult(_ context.Context, res *rooms.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	s.results = append(s.results, *res)
	return nil
}

func (s *MemStore) ResultsByRoom(_ context.Context, roomID string) ([]rooms.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []rooms.Result
	for _, r := range s.results {
		if r.RoomID == roomID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *MemStore) Leaderboard(_ context.Context, limit int) ([]rooms.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := make(map[string]rooms.Result)
	for _, r := range s.results {
		if cur, ok := best[r.UserID]; !ok || r.WPM > cur.WPM {
			best[r.UserID] = r
		}
	}
	out := make([]rooms.Result, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WPM > out[j].WPM })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
