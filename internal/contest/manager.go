package contest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"typeflow/internal/rooms"
	"typeflow/internal/wshub"
)

// Manager owns room membership, the contest state machine, and progress
// fan-out. Every event for a room runs under that room's lock, so the
// read-membership / persist / broadcast sequence is atomic with respect
// to other events on the same room. Events for different rooms proceed
// in parallel.
type Manager struct {
	store    RoomStore
	results  ResultStore
	registry *rooms.Registry
	verify   func(hash, password string) bool
	log      zerolog.Logger
}

// NewManager wires the manager to its stores. verify checks a private
// room's password against its stored hash.
func NewManager(store RoomStore, results ResultStore, registry *rooms.Registry, verify func(hash, password string) bool, logger zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		results:  results,
		registry: registry,
		verify:   verify,
		log:      logger,
	}
}

// Registry exposes the in-memory room registry.
func (m *Manager) Registry() *rooms.Registry {
	return m.registry
}

// JoinRequest carries one join:room event.
type JoinRequest struct {
	RoomID    string
	UserID    string
	UserName  string
	UserImage string
	Password  string
	Client    *wshub.Client
}

// lockRoom returns the room's coordination state, locked, creating it if
// needed. Loops if it raced with a removal.
func (m *Manager) lockRoom(roomID string) *rooms.Room {
	for {
		room := m.registry.GetOrCreate(roomID, rooms.StatusWaiting, nil)
		room.Lock()
		if !room.Closed() {
			return room
		}
		room.Unlock()
	}
}

// lockExisting returns the room's state locked, or nil if the room has
// no in-memory state.
func (m *Manager) lockExisting(roomID string) *rooms.Room {
	room := m.registry.Get(roomID)
	if room == nil {
		return nil
	}
	room.Lock()
	if room.Closed() {
		room.Unlock()
		return nil
	}
	return room
}

// Join admits a connection to a room. A userID that is already a
// participant (the host after creating the room, or a participant
// reconnecting) is attached without persisting a new membership row; a
// second live connection for the same userID is rejected. New
// participants pass the status, capacity, and password checks and are
// persisted before anything is broadcast.
func (m *Manager) Join(ctx context.Context, req JoinRequest) (*rooms.Record, error) {
	room := m.lockRoom(req.RoomID)
	defer room.Unlock()

	rec, err := m.store.GetRoom(ctx, req.RoomID)
	if err != nil {
		m.dropIfUnreferenced(room)
		return nil, fmt.Errorf("loading room %s: %w", req.RoomID, err)
	}
	if rec == nil {
		m.dropIfUnreferenced(room)
		return nil, ErrRoomNotFound
	}

	// Refresh the cache from the source of truth.
	room.Status = rec.Status
	room.HostUserID = rec.HostUserID
	room.SetParticipants(rec.Participants)

	if room.Hub.HasUser(req.UserID) {
		return nil, ErrAlreadyJoined
	}

	if !rec.HasParticipant(req.UserID) {
		if rec.Status != rooms.StatusWaiting {
			m.dropIfUnreferenced(room)
			return nil, ErrRoomNotAccepting
		}
		if len(rec.Participants) >= rec.MaxParticipants {
			m.dropIfUnreferenced(room)
			return nil, ErrRoomFull
		}
		if !rec.IsPublic && rec.PasswordHash != "" {
			if req.Password == "" {
				m.dropIfUnreferenced(room)
				return nil, ErrPasswordRequired
			}
			if !m.verify(rec.PasswordHash, req.Password) {
				m.dropIfUnreferenced(room)
				return nil, ErrInvalidPassword
			}
		}

		p := rooms.Participant{
			UserID:    req.UserID,
			UserName:  req.UserName,
			UserImage: req.UserImage,
			JoinedAt:  time.Now(),
		}
		if err := m.store.AddParticipant(ctx, req.RoomID, p); err != nil {
			m.dropIfUnreferenced(room)
			return nil, fmt.Errorf("persisting participant: %w", err)
		}
		rec.Participants = append(rec.Participants, p)
		room.SetParticipants(rec.Participants)
	}

	room.Hub.Register(req.Client)

	room.Hub.Broadcast(wshub.ServerEvent{Event: EventRoomUpdated, Data: RoomUpdatedPayload{
		Participants: rec.Participants,
		Status:       rec.Status,
	}})
	room.Hub.BroadcastExcept(req.Client.ConnID, wshub.ServerEvent{Event: EventUserJoined, Data: UserJoinedPayload{
		UserID:   req.UserID,
		UserName: req.UserName,
	}})

	m.log.Info().Str("room", req.RoomID).Str("user", req.UserID).Msg("user joined room")
	return rec, nil
}

// Leave handles both the explicit leave:room event and transport
// disconnects. isHost is the client's explicit "close my room" signal and
// takes precedence over automatic host reassignment; it is never inferred
// from room state. Persistent-store failures are logged and the in-memory
// state is cleaned up anyway, trading eventual record inconsistency for a
// room that keeps working.
func (m *Manager) Leave(ctx context.Context, roomID, userID string, isHost bool, connID string) {
	room := m.lockExisting(roomID)
	if room == nil {
		return
	}
	defer room.Unlock()

	rec, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		m.log.Error().Err(err).Str("room", roomID).Msg("leave: loading room record")
	}
	if rec == nil {
		room.Hub.Unregister(connID)
		if room.Hub.Len() == 0 {
			m.registry.Remove(roomID)
		}
		return
	}

	remaining := withoutParticipant(rec.Participants, userID)

	switch {
	case isHost && userID == rec.HostUserID:
		// Explicit host shutdown: the room dies with the host.
		if err := m.store.DeleteRoom(ctx, roomID); err != nil {
			m.log.Error().Err(err).Str("room", roomID).Msg("leave: deleting room record")
		}
		room.Hub.Broadcast(wshub.ServerEvent{Event: EventRoomDeleted, Data: RoomDeletedPayload{
			Message: "Host left the room - room has been deleted",
		}})
		room.Hub.Unregister(connID)
		m.registry.Remove(roomID)
		m.log.Info().Str("room", roomID).Str("user", userID).Msg("host closed room")
		return

	case rec.Status == rooms.StatusWaiting && rec.HasParticipant(userID) && len(remaining) == 0:
		if err := m.store.DeleteRoom(ctx, roomID); err != nil {
			m.log.Error().Err(err).Str("room", roomID).Msg("leave: deleting room record")
		}
		room.Hub.Broadcast(wshub.ServerEvent{Event: EventRoomDeleted, Data: RoomDeletedPayload{
			Message: "Room has been deleted",
		}})
		room.Hub.Unregister(connID)
		m.registry.Remove(roomID)
		m.log.Info().Str("room", roomID).Str("user", userID).Msg("last participant left, room deleted")
		return

	case userID == rec.HostUserID && rec.Status == rooms.StatusWaiting && len(remaining) > 0:
		newHost := earliestJoined(remaining)
		if err := m.store.SetHost(ctx, roomID, newHost); err != nil {
			m.log.Error().Err(err).Str("room", roomID).Msg("leave: persisting host change")
		}
		if err := m.store.RemoveParticipant(ctx, roomID, userID); err != nil {
			m.log.Error().Err(err).Str("room", roomID).Msg("leave: persisting participant removal")
		}
		room.HostUserID = newHost.UserID
		room.SetParticipants(remaining)
		delete(room.Progress, userID)

		room.Hub.Unregister(connID)
		room.Hub.Broadcast(wshub.ServerEvent{Event: EventRoomUpdated, Data: RoomUpdatedPayload{
			Participants: remaining,
			Status:       rec.Status,
		}})
		m.log.Info().Str("room", roomID).Str("user", userID).Str("new_host", newHost.UserID).Msg("host left, reassigned")

	default:
		if rec.HasParticipant(userID) {
			if err := m.store.RemoveParticipant(ctx, roomID, userID); err != nil {
				m.log.Error().Err(err).Str("room", roomID).Msg("leave: persisting participant removal")
			}
		}
		room.SetParticipants(remaining)
		delete(room.Progress, userID)

		room.Hub.Unregister(connID)
		room.Hub.Broadcast(wshub.ServerEvent{Event: EventUserLeft, Data: UserLeftPayload{UserID: userID}})
		m.log.Info().Str("room", roomID).Str("user", userID).Msg("user left room")
	}

	if room.Hub.Len() == 0 && len(room.Participants) == 0 {
		m.registry.Remove(roomID)
	}
}

// Start transitions a waiting room to active. Host only.
func (m *Manager) Start(ctx context.Context, roomID, userID, testText string) error {
	room := m.lockRoom(roomID)
	defer room.Unlock()

	rec, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("loading room %s: %w", roomID, err)
	}
	if rec == nil {
		m.dropIfUnreferenced(room)
		return ErrRoomNotFound
	}
	if rec.HostUserID != userID {
		return ErrForbidden
	}
	if rec.Status != rooms.StatusWaiting {
		return ErrInvalidState
	}

	startedAt := time.Now()
	if err := m.store.SetStatus(ctx, roomID, rooms.StatusActive, startedAt, testText); err != nil {
		return fmt.Errorf("persisting contest start: %w", err)
	}

	room.Status = rooms.StatusActive
	room.Progress = make(map[string]rooms.Progress)
	room.FinishCount = 0

	room.Hub.Broadcast(wshub.ServerEvent{Event: EventRoomStarted, Data: RoomStartedPayload{
		TestText:  testText,
		StartedAt: startedAt,
	}})
	m.log.Info().Str("room", roomID).Msg("contest started")
	return nil
}

// End transitions an active room to finished. Host only. Progress state
// is discarded with the contest.
func (m *Manager) End(ctx context.Context, roomID, userID string) error {
	room := m.lockRoom(roomID)
	defer room.Unlock()

	rec, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("loading room %s: %w", roomID, err)
	}
	if rec == nil {
		m.dropIfUnreferenced(room)
		return ErrRoomNotFound
	}
	if rec.HostUserID != userID {
		return ErrForbidden
	}
	if rec.Status != rooms.StatusActive {
		return ErrInvalidState
	}

	finishedAt := time.Now()
	if err := m.store.SetStatus(ctx, roomID, rooms.StatusFinished, finishedAt, ""); err != nil {
		return fmt.Errorf("persisting contest end: %w", err)
	}

	room.Status = rooms.StatusFinished
	room.Progress = make(map[string]rooms.Progress)

	room.Hub.Broadcast(wshub.ServerEvent{Event: EventRoomFinished, Data: RoomFinishedPayload{
		FinishedAt: finishedAt,
	}})
	m.log.Info().Str("room", roomID).Msg("contest finished")
	return nil
}

// Progress relays one typing tick to everyone else in the room. Silently
// drops if the room has no in-memory state; a tick lost to a cleanup race
// is acceptable.
func (m *Manager) Progress(roomID, connID string, p rooms.Progress) {
	room := m.lockExisting(roomID)
	if room == nil {
		return
	}
	defer room.Unlock()

	room.Progress[p.UserID] = p
	room.Hub.BroadcastExcept(connID, wshub.ServerEvent{Event: EventProgressUpdate, Data: p})
}

// SubmitResult announces a participant's finish to the room and persists
// the result row off the hot path. Placement is arrival order of finish
// events within the current contest.
func (m *Manager) SubmitResult(ctx context.Context, roomID, userID string, res rooms.Result) error {
	room := m.lockExisting(roomID)
	if room == nil {
		return ErrRoomNotFound
	}
	defer room.Unlock()

	room.FinishCount++
	res.RoomID = roomID
	res.UserID = userID
	res.Position = room.FinishCount
	res.CreatedAt = time.Now()

	room.Hub.Broadcast(wshub.ServerEvent{Event: EventUserFinished, Data: UserFinishedPayload{
		UserID:      userID,
		WPM:         res.WPM,
		Accuracy:    res.Accuracy,
		ElapsedTime: res.ElapsedTime,
	}})

	go func() {
		if err := m.results.SaveResult(context.WithoutCancel(ctx), &res); err != nil {
			m.log.Error().Err(err).Str("room", roomID).Str("user", userID).Msg("saving result")
		}
	}()

	m.log.Info().Str("room", roomID).Str("user", userID).Float64("wpm", res.WPM).Msg("user finished")
	return nil
}

// DeleteRoom removes a waiting room on the host's explicit request and
// notifies any live subscribers before the state disappears.
func (m *Manager) DeleteRoom(ctx context.Context, roomID, userID string) error {
	rec, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("loading room %s: %w", roomID, err)
	}
	if rec == nil {
		return ErrRoomNotFound
	}
	if rec.HostUserID != userID {
		return ErrForbidden
	}
	if rec.Status != rooms.StatusWaiting {
		return ErrInvalidState
	}

	if err := m.store.DeleteRoom(ctx, roomID); err != nil {
		return fmt.Errorf("deleting room %s: %w", roomID, err)
	}

	if room := m.lockExisting(roomID); room != nil {
		room.Hub.Broadcast(wshub.ServerEvent{Event: EventRoomDeleted, Data: RoomDeletedPayload{
			Message: "Room has been deleted by the host",
		}})
		m.registry.Remove(roomID)
		room.Unlock()
	}

	m.log.Info().Str("room", roomID).Str("user", userID).Msg("room deleted")
	return nil
}

// dropIfUnreferenced removes a room created as a placeholder for an
// operation that then failed. Call with the room locked.
func (m *Manager) dropIfUnreferenced(room *rooms.Room) {
	if room.Hub.Len() == 0 && len(room.Participants) == 0 {
		m.registry.Remove(room.Code)
	}
}

func withoutParticipant(ps []rooms.Participant, userID string) []rooms.Participant {
	out := make([]rooms.Participant, 0, len(ps))
	for _, p := range ps {
		if p.UserID != userID {
			out = append(out, p)
		}
	}
	return out
}

func earliestJoined(ps []rooms.Participant) rooms.Participant {
	best := ps[0]
	for _, p := range ps[1:] {
		if p.JoinedAt.Before(best.JoinedAt) {
			best = p
		}
	}
	return best
}
