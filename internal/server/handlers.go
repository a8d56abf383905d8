package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"typeflow/internal/contest"
	"typeflow/internal/db"
	"typeflow/internal/rooms"
)

const (
	defaultMaxParticipants = 5
	minParticipants        = 2
	codeAttempts           = 10
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type createRoomRequest struct {
	Name string `json:"name"`
	Host struct {
		UserID    string `json:"userId"`
		UserName  string `json:"userName"`
		UserImage string `json:"userImage"`
	} `json:"host"`
	IsPublic        bool           `json:"isPublic"`
	Password        string         `json:"password"`
	Settings        rooms.Settings `json:"settings"`
	MaxParticipants int            `json:"maxParticipants"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Host.UserID == "" || req.Host.UserName == "" {
		writeError(w, http.StatusBadRequest, "name and host are required")
		return
	}

	maxP := req.MaxParticipants
	if maxP == 0 {
		maxP = defaultMaxParticipants
	}
	if maxP < minParticipants || maxP > s.Cfg.MaxParticipants {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("maxParticipants must be between %d and %d", minParticipants, s.Cfg.MaxParticipants))
		return
	}

	var passwordHash string
	if !req.IsPublic && req.Password != "" {
		var err error
		passwordHash, err = db.HashPassword(req.Password)
		if err != nil {
			s.Log.Error().Err(err).Msg("hashing room password")
			writeError(w, http.StatusInternalServerError, "failed to create room")
			return
		}
	}

	now := time.Now()
	rec := &rooms.Record{
		Name:            req.Name,
		HostUserID:      req.Host.UserID,
		HostUserName:    req.Host.UserName,
		HostUserImage:   req.Host.UserImage,
		IsPublic:        req.IsPublic,
		PasswordHash:    passwordHash,
		Settings:        req.Settings,
		Status:          rooms.StatusWaiting,
		MaxParticipants: maxP,
		CreatedAt:       now,
		Participants: []rooms.Participant{{
			UserID:    req.Host.UserID,
			UserName:  req.Host.UserName,
			UserImage: req.Host.UserImage,
			JoinedAt:  now,
		}},
	}

	// Retry on the rare code collision
	for i := 0; i < codeAttempts; i++ {
		code, err := rooms.GenerateCode()
		if err != nil {
			s.Log.Error().Err(err).Msg("generating room code")
			writeError(w, http.StatusInternalServerError, "failed to create room")
			return
		}
		existing, err := s.Store.GetRoom(r.Context(), code)
		if err != nil {
			s.Log.Error().Err(err).Msg("checking room code")
			writeError(w, http.StatusInternalServerError, "failed to create room")
			return
		}
		if existing != nil {
			continue
		}
		rec.RoomID = code
		if err := s.Store.CreateRoom(r.Context(), rec); err != nil {
			s.Log.Error().Err(err).Msg("creating room")
			writeError(w, http.StatusInternalServerError, "failed to create room")
			return
		}
		s.Log.Info().Str("room", code).Str("host", rec.HostUserID).Msg("room created")
		writeJSON(w, http.StatusCreated, rec)
		return
	}
	writeError(w, http.StatusInternalServerError, "failed to generate a unique room code")
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	skip := queryInt(r, "skip", 0)

	list, err := s.Store.ListPublicRooms(r.Context(), limit, skip)
	if err != nil {
		s.Log.Error().Err(err).Msg("listing rooms")
		writeError(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": emptyIfNil(list)})
}

func (s *Server) handleSearchRooms(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	list, err := s.Store.SearchPublicRooms(r.Context(), q, queryInt(r, "limit", 20))
	if err != nil {
		s.Log.Error().Err(err).Msg("searching rooms")
		writeError(w, http.StatusInternalServerError, "failed to search rooms")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": emptyIfNil(list)})
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := strings.ToUpper(r.PathValue("roomId"))
	rec, err := s.Store.GetRoom(r.Context(), roomID)
	if err != nil {
		s.Log.Error().Err(err).Str("room", roomID).Msg("loading room")
		writeError(w, http.StatusInternalServerError, "failed to load room")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID := strings.ToUpper(r.PathValue("roomId"))
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	err := s.Manager.DeleteRoom(r.Context(), roomID, userID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, contest.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, contest.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, contest.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.Log.Error().Err(err).Str("room", roomID).Msg("deleting room")
		writeError(w, http.StatusInternalServerError, "failed to delete room")
	}
}

func (s *Server) handleRoomResults(w http.ResponseWriter, r *http.Request) {
	roomID := strings.ToUpper(r.PathValue("roomId"))
	results, err := s.Store.ResultsByRoom(r.Context(), roomID)
	if err != nil {
		s.Log.Error().Err(err).Str("room", roomID).Msg("loading results")
		writeError(w, http.StatusInternalServerError, "failed to load results")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": emptyIfNilResults(results)})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	results, err := s.Store.Leaderboard(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		s.Log.Error().Err(err).Msg("loading leaderboard")
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": emptyIfNilResults(results)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.DB != nil {
		if err := s.DB.Ping(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db_error", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
	}
	return fallback
}

func emptyIfNil(list []rooms.Record) []rooms.Record {
	if list == nil {
		return []rooms.Record{}
	}
	return list
}

func emptyIfNilResults(list []rooms.Result) []rooms.Result {
	if list == nil {
		return []rooms.Result{}
	}
	return list
}
