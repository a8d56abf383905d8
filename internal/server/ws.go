package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"typeflow/internal/contest"
	"typeflow/internal/metrics"
	"typeflow/internal/rooms"
	"typeflow/internal/wshub"
)

// Client-to-server event names.
const (
	eventJoinRoom     = "join:room"
	eventLeaveRoom    = "leave:room"
	eventProgressSend = "progress:send"
	eventStartContest = "start:contest"
	eventResultSubmit = "result:submit"
	eventEndContest   = "end:contest"
)

type joinPayload struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserImage string `json:"userImage"`
	Password  string `json:"password"`
}

type leavePayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	IsHost bool   `json:"isHost"`
}

type progressPayload struct {
	RoomID   string         `json:"roomId"`
	Progress rooms.Progress `json:"progress"`
}

type startPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	TestText string `json:"testText"`
}

type resultPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Result struct {
		WPM         float64 `json:"wpm"`
		Accuracy    float64 `json:"accuracy"`
		ElapsedTime float64 `json:"elapsedTime"`
	} `json:"result"`
}

type endPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type ackPayload struct {
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Room    *rooms.Record `json:"room,omitempty"`
}

// binding ties a connection to the (user, room) it joined. One connection
// is in at most one room; a second browser tab is a second connection
// with its own binding.
type binding struct {
	roomID string
	userID string
}

// handleWS is the connection gateway: it owns one WebSocket connection,
// dispatches its events, and on disconnect runs the same leave path as an
// explicit leave:room using the binding to recover identity.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser clients are served from a separate origin; access
		// control happens at the API layer, not the handshake.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.Log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	connID := uuid.New().String()
	client := wshub.NewClient(connID, "", "", conn)

	metrics.ConnectedClients.Inc()
	defer metrics.ConnectedClients.Dec()

	ctx := r.Context()
	go client.WritePump(ctx)

	s.Log.Debug().Str("conn", connID).Msg("connection opened")

	var bound *binding
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			break
		}

		var ev wshub.ClientEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			// Malformed frames are dropped, not fatal
			continue
		}
		metrics.EventsTotal.WithLabelValues(ev.Event).Inc()

		switch ev.Event {
		case eventJoinRoom:
			bound = s.handleJoin(ctx, client, ev, bound)
		case eventLeaveRoom:
			bound = s.handleLeave(ctx, client, ev, bound)
		case eventProgressSend:
			var p progressPayload
			if err := json.Unmarshal(ev.Data, &p); err != nil {
				continue
			}
			s.Manager.Progress(p.RoomID, connID, p.Progress)
		case eventStartContest:
			s.handleStart(ctx, client, ev, bound)
		case eventResultSubmit:
			s.handleSubmit(ctx, client, ev, bound)
		case eventEndContest:
			s.handleEnd(ctx, client, ev, bound)
		}
	}

	// Transport disconnect without an explicit leave
	if bound != nil {
		s.Manager.Leave(context.WithoutCancel(ctx), bound.roomID, bound.userID, false, connID)
	}
	s.Log.Debug().Str("conn", connID).Msg("connection closed")
}

func (s *Server) handleJoin(ctx context.Context, client *wshub.Client, ev wshub.ClientEvent, bound *binding) *binding {
	var p joinPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		s.ack(client, ev.ID, ackPayload{Success: false, Error: "invalid payload"})
		return bound
	}
	if bound != nil {
		s.ack(client, ev.ID, ackPayload{Success: false, Error: contest.ErrAlreadyJoined.Error()})
		return bound
	}

	client.UserID = p.UserID
	client.UserName = p.UserName

	rec, err := s.Manager.Join(ctx, contest.JoinRequest{
		RoomID:    p.RoomID,
		UserID:    p.UserID,
		UserName:  p.UserName,
		UserImage: p.UserImage,
		Password:  p.Password,
		Client:    client,
	})
	if err != nil {
		s.ack(client, ev.ID, ackPayload{Success: false, Error: s.clientError(err, "failed to join room")})
		return nil
	}

	s.ack(client, ev.ID, ackPayload{Success: true, Room: rec})
	return &binding{roomID: p.RoomID, userID: p.UserID}
}

func (s *Server) handleLeave(ctx context.Context, client *wshub.Client, ev wshub.ClientEvent, bound *binding) *binding {
	var p leavePayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		return bound
	}
	s.Manager.Leave(ctx, p.RoomID, p.UserID, p.IsHost, client.ConnID)
	if bound != nil && bound.roomID == p.RoomID {
		return nil
	}
	return bound
}

func (s *Server) handleStart(ctx context.Context, client *wshub.Client, ev wshub.ClientEvent, bound *binding) {
	var p startPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		s.ack(client, ev.ID, ackPayload{Success: false, Error: "invalid payload"})
		return
	}
	if bound == nil || bound.roomID != p.RoomID {
		s.ack(client, ev.ID, ackPayload{Success: false, Error: contest.ErrNotInRoom.Error()})
		return
	}
	if err := s.Manager.Start(ctx, p.RoomID, p.UserID, p.TestText); err != nil {
		s.ack(client, ev.ID, ackPayload{Success: false, Error: s.clientError(err, "failed to start contest")})
		return
	}
	s.ack(client, ev.ID, ackPayload{Success: true})
}

func (s *Server) handleSubmit(ctx context.Context, client *wshub.Client, ev wshub.ClientEvent, bound *binding) {
	var p resultPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		s.ack(client, ev.ID, ackPayload{Success: false, Error: "invalid payload"})
		return
	}
	if bound == nil || bound.roomID != p.RoomID {
		s.ack(client, ev.ID, ackPayload{Success: false, Error: contest.ErrNotInRoom.Error()})
		return
	}
	res := rooms.Result{
		UserName:    client.UserName,
		WPM:         p.Result.WPM,
		Accuracy:    p.Result.Accuracy,
		ElapsedTime: p.Result.ElapsedTime,
	}
	if err := s.Manager.SubmitResult(ctx, p.RoomID, p.UserID, res); err != nil {
		s.ack(client, ev.ID, ackPayload{Success: false, Error: s.clientError(err, "failed to submit result")})
		return
	}
	s.ack(client, ev.ID, ackPayload{Success: true})
}

func (s *Server) handleEnd(ctx context.Context, client *wshub.Client, ev wshub.ClientEvent, bound *binding) {
	var p endPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		s.ack(client, ev.ID, ackPayload{Success: false, Error: "invalid payload"})
		return
	}
	if bound == nil || bound.roomID != p.RoomID {
		s.ack(client, ev.ID, ackPayload{Success: false, Error: contest.ErrNotInRoom.Error()})
		return
	}
	if err := s.Manager.End(ctx, p.RoomID, p.UserID); err != nil {
		s.ack(client, ev.ID, ackPayload{Success: false, Error: s.clientError(err, "failed to end contest")})
		return
	}
	s.ack(client, ev.ID, ackPayload{Success: true})
}

// ack queues an ack frame when the client asked for one (nonzero id).
func (s *Server) ack(client *wshub.Client, id int, data ackPayload) {
	if id == 0 {
		return
	}
	b, err := json.Marshal(wshub.ServerEvent{Event: "ack", ID: id, Data: data})
	if err != nil {
		return
	}
	select {
	case client.Send <- b:
	default:
	}
}

var clientErrors = []error{
	contest.ErrRoomNotFound,
	contest.ErrRoomNotAccepting,
	contest.ErrRoomFull,
	contest.ErrAlreadyJoined,
	contest.ErrPasswordRequired,
	contest.ErrInvalidPassword,
	contest.ErrForbidden,
	contest.ErrInvalidState,
	contest.ErrNotInRoom,
}

// clientError returns the sentinel's message for expected failures and a
// generic message for everything else, logging the detail server-side.
func (s *Server) clientError(err error, generic string) string {
	for _, ce := range clientErrors {
		if errors.Is(err, ce) {
			return ce.Error()
		}
	}
	s.Log.Error().Err(err).Msg(generic)
	return generic
}
