package contest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typeflow/internal/db"
	"typeflow/internal/rooms"
	"typeflow/internal/wshub"
)

func newTestManager(t *testing.T) (*Manager, *db.MemStore, *rooms.Registry) {
	t.Helper()
	store := db.NewMemStore()
	registry := rooms.NewRegistry(0)
	m := NewManager(store, store, registry, db.VerifyPassword, zerolog.Nop())
	return m, store, registry
}

func seedRoom(t *testing.T, store *db.MemStore, roomID, hostID string, maxParticipants int) {
	t.Helper()
	now := time.Now().Add(-time.Minute)
	err := store.CreateRoom(context.Background(), &rooms.Record{
		RoomID:          roomID,
		Name:            "test room",
		HostUserID:      hostID,
		HostUserName:    "host " + hostID,
		IsPublic:        true,
		Status:          rooms.StatusWaiting,
		MaxParticipants: maxParticipants,
		CreatedAt:       now,
		Participants: []rooms.Participant{{
			UserID:   hostID,
			UserName: "host " + hostID,
			JoinedAt: now,
		}},
	})
	require.NoError(t, err)
}

func testClient(connID, userID string) *wshub.Client {
	return &wshub.Client{ConnID: connID, UserID: userID, UserName: "user " + userID, Send: make(chan []byte, 64)}
}

func join(t *testing.T, m *Manager, roomID string, c *wshub.Client) *rooms.Record {
	t.Helper()
	rec, err := m.Join(context.Background(), JoinRequest{
		RoomID:   roomID,
		UserID:   c.UserID,
		UserName: c.UserName,
		Client:   c,
	})
	require.NoError(t, err)
	return rec
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// drain collects every frame currently queued on the client.
func drain(t *testing.T, c *wshub.Client) []frame {
	t.Helper()
	var out []frame
	for {
		select {
		case data := <-c.Send:
			var f frame
			require.NoError(t, json.Unmarshal(data, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func eventNames(frames []frame) []string {
	names := make([]string, len(frames))
	for i, f := range frames {
		names[i] = f.Event
	}
	return names
}

func TestJoin_RoomNotFound(t *testing.T) {
	m, _, registry := newTestManager(t)

	_, err := m.Join(context.Background(), JoinRequest{
		RoomID: "NOSUCH", UserID: "u1", UserName: "Alice", Client: testClient("c1", "u1"),
	})
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Equal(t, 0, registry.Len(), "failed join must not leak registry state")
}

func TestJoin_HostAttaches(t *testing.T) {
	m, store, _ := newTestManager(t)
	seedRoom(t, store, "ROOM01", "host", 5)

	host := testClient("c1", "host")
	rec := join(t, m, "ROOM01", host)

	assert.Len(t, rec.Participants, 1, "host attach must not persist a second membership")

	frames := drain(t, host)
	require.Len(t, frames, 1)
	assert.Equal(t, EventRoomUpdated, frames[0].Event, "joiner gets room:updated but not its own user:joined")
}

func TestJoin_SecondParticipant(t *testing.T) {
	m, store, _ := newTestManager(t)
	seedRoom(t, store, "ROOM01", "host", 5)

	host := testClient("c1", "host")
	join(t, m, "ROOM01", host)
	drain(t, host)

	b := testClient("c2", "bob")
	rec := join(t, m, "ROOM01", b)

	assert.Len(t, rec.Participants, 2)

	hostFrames := drain(t, host)
	assert.Equal(t, []string{EventRoomUpdated, EventUserJoined}, eventNames(hostFrames))

	var joined UserJoinedPayload
	require.NoError(t, json.Unmarshal(hostFrames[1].Data, &joined))
	assert.Equal(t, "bob", joined.UserID)

	bFrames := drain(t, b)
	assert.Equal(t, []string{EventRoomUpdated}, eventNames(bFrames))

	var updated RoomUpdatedPayload
	require.NoError(t, json.Unmarshal(bFrames[0].Data, &updated))
	assert.Len(t, updated.Participants, 2)
	assert.Equal(t, rooms.StatusWaiting, updated.Status)

	stored, err := store.GetRoom(context.Background(), "ROOM01")
	require.NoError(t, err)
	assert.True(t, stored.HasParticipant("bob"), "new participant must be persisted")
}

func TestJoin_NotAccepting(t *testing.T) {
	m, store, _ := newTestManager(t)
	seedRoom(t, store, "ROOM01", "host", 5)
	require.NoError(t, store.SetStatus(context.Background(), "ROOM01", rooms.StatusActive, time.Now(), "text"))

	_, err := m.Join(context.Background(), JoinRequest{
		RoomID: "ROOM01", UserID: "bob", UserName: "Bob", Client: testClient("c2", "bob"),
	})
	assert.ErrorIs(t, err, ErrRoomNotAccepting)
}

func TestJoin_RoomFull(t *testing.T) {
	m, store, _ := newTestManager(t)
	seedRoom(t, store, "ROOM01", "host", 2)

	join(t, m, "ROOM01", testClient("c1", "host"))
	join(t, m, "ROOM01", testClient("c2", "bob"))

	_, err := m.Join(context.Background(), JoinRequest{
		RoomID: "ROOM01", UserID: "carol", UserName: "Carol", Client: testClient("c3", "carol"),
	})
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestJoin_DuplicateConnection(t *testing.T) {
	m, store, _ := newTestManager(t)
	seedRoom(t, store, "ROOM01", "host", 5)

	join(t, m, "ROOM01", testClient("c1", "host"))

	_, err := m.Join(context.Background(), JoinRequest{
		RoomID: "ROOM01", UserID: "host", UserName: "host", Client: testClient("c2", "host"),
	})
	assert.ErrorIs(t, err, ErrAlreadyJoined)
}

func TestJoin_PrivateRoomPassword(t *testing.T) {
	m, store, _ := newTestManager(t)

	hash, err := db.HashPassword("secret")
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, store.CreateRoom(context.Background(), &rooms.Record{
		RoomID:          "PRIV01",
		Name:            "private",
		HostUserID:      "host",
		HostUserName:    "Host",
		IsPublic:        false,
		PasswordHash:    hash,
		Status:          rooms.StatusWaiting,
		MaxParticipants: 5,
		CreatedAt:       now,
		Participants:    []rooms.Participant{{UserID: "host", UserName: "Host", JoinedAt: now}},
	}))

	_, err = m.Join(context.Background(), JoinRequest{
		RoomID: "PRIV01", UserID: "bob", UserName: "Bob", Client: testClient("c1", "bob"),
	})
	assert.ErrorIs(t, err, ErrPasswordRequired)

	_, err = m.Join(context.Background(), JoinRequest{
		RoomID: "PRIV01", UserID: "bob", UserName: "Bob", Password: "wrong", Client: testClient("c2", "bob"),
	})
	assert.ErrorIs(t, err, ErrInvalidPassword)

	_, err = m.Join(context.Background(), JoinRequest{
		RoomID: "PRIV01", UserID: "bob", UserName: "Bob", Password: "secret", Client: testClient("c3", "bob"),
	})
	assert.NoError(t, err)
}

func TestLeave_SoleParticipantDeletesRoom(t *testing.T) {
	m, store, registry := newTestManager(t)
	seedRoom(t, store, "ROOM01", "host", 5)

	host := testClient("c1", "host")
	join(t, m, "ROOM01", host)

	m.Leave(context.Background(), "ROOM01", "host", false, "c1")

	stored, err := store.GetRoom(context.Background(), "ROOM01")
	require.NoError(t, err)
	assert.Nil(t, stored, "room record should be deleted")
	assert.Nil(t, registry.Get("ROOM01"), "in-memory state should be deleted")

	// A later join finds nothing
	_, err = m.Join(context.Background(), JoinRequest{
		RoomID: "ROOM01", UserID: "host", UserName: "host", Client: testClient("c2", "host"),
	})
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestLeave_HostReassigned(t *testing.T) {
	m, store, _ := newTestManager(t)
	seedRoom(t, store, "ROOM01", "host", 5)

	host := testClient("c1", "host")
	bob := testClient("c2", "bob")
	carol := testClient("c3", "carol")
	join(t, m, "ROOM01", host)
	join(t, m, "ROOM01", bob) // bob joins before carol
	join(t, m, "ROOM01", carol)
	drain(t, bob)
	drain(t, carol)

	m.Leave(context.Background(), "ROOM01", "host", false, "c1")

	stored, err := store.GetRoom(context.Background(), "ROOM01")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "bob", stored.HostUserID, "earliest joined remaining participant becomes host")
	assert.False(t, stored.HasParticipant("host"), "former host is no longer a participant")
	assert.Len(t, stored.Participants, 2)

	bobFrames := drain(t, bob)
	require.Equal(t, []string{EventRoomUpdated}, eventNames(bobFrames))
	var updated RoomUpdatedPayload
	require.NoError(t, json.Unmarshal(bobFrames[0].Data, &updated))
	assert.Len(t, updated.Participants, 2)
}

func TestLeave_ExplicitHostFlagDeletesRoom(t *testing.T) {
	m, store, registry := newTestManager(t)
	seedRoom(t, store, "ROOM01", "host", 5)

	host := testClient("c1", "host")
	bob := testClient("c2", "bob")
	join(t, m, "ROOM01", host)
	join(t, m, "ROOM01", bob)
	drain(t, bob)

	m.Leave(context.Background(), "ROOM01", "host", true, "c1")

	bobFrames := drain(t, bob)
	require.Len(t, bobFrames, 1)
	assert.Equal(t, EventRoomDeleted, bobFrames[0].Event)

	stored, err := store.GetRoom(context.Background(), "ROOM01")
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Nil(t, registry.Get("ROOM01"))
}

func TestLeave_NonHost(t *testing.T) {
	m, store, _ := newTestManager(t)
	seedRoom(t, store, "ROOM01", "host", 5)

	host := testClient("c1", "host")
	bob := testClient("c2", "bob")
	join(t, m, "ROOM01", host)
	join(t, m, "ROOM01", bob)
	drain(t, host)

	m.Leave(context.Background(), "ROOM01", "bob", false, "c2")

	hostFrames := drain(t, host)
	require.Equal(t, []string{EventUserLeft}, eventNames(hostFrames))
	var left UserLeftPayload
	require.NoError(t, json.Unmarshal(hostFrames[0].Data, &left))
	assert.Equal(t, "bob", left.UserID)

	stored, err := store.GetRoom(context.Background(), "ROOM01")
	require.NoError(t, err)
	assert.Equal(t, "host", stored.HostUserID)
	assert.Len(t, stored.Participants, 1)
}

func TestLeave_MissingRoom(t *testing.T) {
	m, _, _ := newTestManager(t)
	// Should be a silent no-op
	m.Leave(context.Background(), "NOSUCH", "u1", false, "c1")
}

func TestStart(t *testing.T) {
	m, store, registry := newTestManager(t)
	seedRoom(t, store, "ROOM01", "host", 5)

	host := testClient("c1", "host")
	bob := testClient("c2", "bob")
	join(t, m, "ROOM01", host)
	join(t, m, "ROOM01", bob)

	// Non-host cannot start
	err := m.Start(context.Background(), "ROOM01", "bob", "abc")
	assert.ErrorIs(t, err, ErrForbidden)
	stored, _ := store.GetRoom(context.Background(), "ROOM01")
	assert.Equal(t, rooms.StatusWaiting, stored.Status)

	// Stale progress from a previous contest must not leak into the new one
	room := registry.Get("ROOM01")
	room.Lock()
	room.Progress["bob"] = rooms.Progress{UserID: "bob", WPM: 10}
	room.Unlock()

	drain(t, host)
	drain(t, bob)

	require.NoError(t, m.Start(context.Background(), "ROOM01", "host", "abc"))

	stored, _ = store.GetRoom(context.Background(), "ROOM01")
	assert.Equal(t, rooms.StatusActive, stored.Status)
	assert.Equal(t, "abc", stored.TestText)
	require.NotNil(t, stored.StartedAt)

	room.Lock()
	assert.Empty(t, room.Progress, "progress is cleared on contest start")
	room.Unlock()

	for _, c := range []*wshub.Client{host, bob} {
		frames := drain(t, c)
		require.Equal(t, []string{EventRoomStarted}, eventNames(frames))
		var started RoomStartedPayload
		require.NoError(t, json.Unmarshal(frames[0].Data, &started))
		assert.Equal(t, "abc", started.TestText)
		assert.False(t, started.StartedAt.IsZero())
	}

	// No restart of a running contest
	err = m.Start(context.Background(), "ROOM01", "host", "xyz")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStart_RoomNotFound(t *testing.T) {
	m, _, registry := newTestManager(t)
	err := m.Start(context.Background(), "NOSUCH", "host", "abc")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Equal(t, 0, registry.Len())
}

func TestEnd(t *testing.T) {
	m, store, _ := newTestManager(t)
	seedRoom(t, store, "ROOM01", "host", 5)

	host := testClient("c1", "host")
	bob := testClient("c2", "bob")
	join(t, m, "ROOM01", host)
	join(t, m, "ROOM01", bob)

	// Cannot end before start
	err := m.End(context.Background(), "ROOM01", "host")
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, m.Start(context.Background(), "ROOM01", "host", "abc"))

	// Non-host cannot end
	err = m.End(context.Background(), "ROOM01", "bob")
	assert.ErrorIs(t, err, ErrForbidden)

	drain(t, host)
	drain(t, bob)

	require.NoError(t, m.End(context.Background(), "ROOM01", "host"))

	stored, _ := store.GetRoom(context.Background(), "ROOM01")
	assert.Equal(t, rooms.StatusFinished, stored.Status)
	require.NotNil(t, stored.EndedAt)

	for _, c := range []*wshub.Client{host, bob} {
		frames := drain(t, c)
		require.Equal(t, []string{EventRoomFinished}, eventNames(frames))
	}

	// Finished is terminal
	err = m.Start(context.Background(), "ROOM01", "host", "again")
	assert.ErrorIs(t, err, ErrInvalidState)
	err = m.End(context.Background(), "ROOM01", "host")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestProgress_FanOutInOrder(t *testing.T) {
	m, store, registry := newTestManager(t)
	seedRoom(t, store, "ROOM01", "host", 5)

	host := testClient("c1", "host")
	bob := testClient("c2", "bob")
	join(t, m, "ROOM01", host)
	join(t, m, "ROOM01", bob)
	require.NoError(t, m.Start(context.Background(), "ROOM01", "host", "abc"))
	drain(t, host)
	drain(t, bob)

	for i := 1; i <= 5; i++ {
		m.Progress("ROOM01", "c2", rooms.Progress{UserID: "bob", WPM: float64(60 + i), Percent: float64(i * 20)})
	}

	hostFrames := drain(t, host)
	require.Len(t, hostFrames, 5)
	for i, f := range hostFrames {
		assert.Equal(t, EventProgressUpdate, f.Event)
		var p rooms.Progress
		require.NoError(t, json.Unmarshal(f.Data, &p))
		assert.Equal(t, float64((i+1)*20), p.Percent, "ticks must arrive in send order")
	}

	assert.Empty(t, drain(t, bob), "sender does not receive its own ticks")

	room := registry.Get("ROOM01")
	room.Lock()
	assert.Equal(t, 100.0, room.Progress["bob"].Percent, "latest tick wins")
	room.Unlock()
}

func TestProgress_UnknownRoomDropped(t *testing.T) {
	m, _, _ := newTestManager(t)
	// Silent drop, no panic
	m.Progress("NOSUCH", "c1", rooms.Progress{UserID: "u1"})
}

func TestSubmitResult(t *testing.T) {
	m, store, _ := newTestManager(t)
	seedRoom(t, store, "ROOM01", "host", 5)

	host := testClient("c1", "host")
	bob := testClient("c2", "bob")
	join(t, m, "ROOM01", host)
	join(t, m, "ROOM01", bob)
	require.NoError(t, m.Start(context.Background(), "ROOM01", "host", "abc"))
	drain(t, host)
	drain(t, bob)

	require.NoError(t, m.SubmitResult(context.Background(), "ROOM01", "bob", rooms.Result{
		UserName: "Bob", WPM: 92.5, Accuracy: 97.1, ElapsedTime: 30,
	}))
	require.NoError(t, m.SubmitResult(context.Background(), "ROOM01", "host", rooms.Result{
		UserName: "Host", WPM: 80, Accuracy: 95, ElapsedTime: 31,
	}))

	hostFrames := drain(t, host)
	require.GreaterOrEqual(t, len(hostFrames), 2)
	assert.Equal(t, EventUserFinished, hostFrames[0].Event)
	var finished UserFinishedPayload
	require.NoError(t, json.Unmarshal(hostFrames[0].Data, &finished))
	assert.Equal(t, "bob", finished.UserID)
	assert.Equal(t, 92.5, finished.WPM)

	// Persistence happens off the hot path
	require.Eventually(t, func() bool {
		results, err := store.ResultsByRoom(context.Background(), "ROOM01")
		return err == nil && len(results) == 2
	}, time.Second, 10*time.Millisecond)

	results, err := store.ResultsByRoom(context.Background(), "ROOM01")
	require.NoError(t, err)
	assert.Equal(t, "bob", results[0].UserID)
	assert.Equal(t, 1, results[0].Position, "placement is finish order")
	assert.Equal(t, "host", results[1].UserID)
	assert.Equal(t, 2, results[1].Position)
}

func TestDeleteRoom(t *testing.T) {
	m, store, registry := newTestManager(t)
	seedRoom(t, store, "ROOM01", "host", 5)

	host := testClient("c1", "host")
	bob := testClient("c2", "bob")
	join(t, m, "ROOM01", host)
	join(t, m, "ROOM01", bob)
	drain(t, bob)

	err := m.DeleteRoom(context.Background(), "ROOM01", "bob")
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, m.DeleteRoom(context.Background(), "ROOM01", "host"))

	bobFrames := drain(t, bob)
	require.Len(t, bobFrames, 1)
	assert.Equal(t, EventRoomDeleted, bobFrames[0].Event)

	stored, err := store.GetRoom(context.Background(), "ROOM01")
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Nil(t, registry.Get("ROOM01"))

	err = m.DeleteRoom(context.Background(), "ROOM01", "host")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestDeleteRoom_ActiveRoom(t *testing.T) {
	m, store, _ := newTestManager(t)
	seedRoom(t, store, "ROOM01", "host", 5)
	join(t, m, "ROOM01", testClient("c1", "host"))
	require.NoError(t, m.Start(context.Background(), "ROOM01", "host", "abc"))

	err := m.DeleteRoom(context.Background(), "ROOM01", "host")
	assert.ErrorIs(t, err, ErrInvalidState)
}

// Full contest walkthrough: create, join, start, progress, end.
func TestContestLifecycle(t *testing.T) {
	m, store, _ := newTestManager(t)
	seedRoom(t, store, "ROOM01", "alice", 2)

	alice := testClient("c1", "alice")
	bob := testClient("c2", "bob")

	join(t, m, "ROOM01", alice)
	join(t, m, "ROOM01", bob)

	aliceFrames := drain(t, alice)
	require.NotEmpty(t, aliceFrames)
	var updated RoomUpdatedPayload
	require.NoError(t, json.Unmarshal(aliceFrames[len(aliceFrames)-2].Data, &updated))

	require.NoError(t, m.Start(context.Background(), "ROOM01", "alice", "abc"))
	drain(t, alice)
	drain(t, bob)

	m.Progress("ROOM01", "c2", rooms.Progress{UserID: "bob", Percent: 50})

	frames := drain(t, alice)
	require.Equal(t, []string{EventProgressUpdate}, eventNames(frames))
	var p rooms.Progress
	require.NoError(t, json.Unmarshal(frames[0].Data, &p))
	assert.Equal(t, 50.0, p.Percent)

	require.NoError(t, m.End(context.Background(), "ROOM01", "alice"))

	stored, _ := store.GetRoom(context.Background(), "ROOM01")
	assert.Equal(t, rooms.StatusFinished, stored.Status)
	for _, c := range []*wshub.Client{alice, bob} {
		require.Equal(t, []string{EventRoomFinished}, eventNames(drain(t, c)))
	}
}
