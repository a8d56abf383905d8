package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"typeflow/internal/config"
	"typeflow/internal/contest"
	"typeflow/internal/db"
	"typeflow/internal/metrics"
	"typeflow/internal/rooms"
)

// Store combines everything the handlers need from persistence. Both the
// PostgreSQL store and the in-memory store satisfy it.
type Store interface {
	contest.RoomStore
	contest.ResultStore
	CreateRoom(ctx context.Context, rec *rooms.Record) error
	DeleteStaleRooms(ctx context.Context, cutoff time.Time) (int64, error)
	ListPublicRooms(ctx context.Context, limit, skip int) ([]rooms.Record, error)
	SearchPublicRooms(ctx context.Context, query string, limit int) ([]rooms.Record, error)
	ResultsByRoom(ctx context.Context, roomID string) ([]rooms.Result, error)
	Leaderboard(ctx context.Context, limit int) ([]rooms.Result, error)
}

type Server struct {
	Cfg      config.Config
	Store    Store
	Manager  *contest.Manager
	Registry *rooms.Registry
	DB       *db.Store // nil when running on the in-memory store
	Log      zerolog.Logger
}

// Routes builds the HTTP mux for the server.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/rooms", s.handleCreateRoom)
	mux.HandleFunc("GET /api/rooms", s.handleListRooms)
	mux.HandleFunc("GET /api/rooms/search", s.handleSearchRooms)
	mux.HandleFunc("GET /api/rooms/{roomId}", s.handleGetRoom)
	mux.HandleFunc("DELETE /api/rooms/{roomId}", s.handleDeleteRoom)
	mux.HandleFunc("GET /api/rooms/{roomId}/results", s.handleRoomResults)
	mux.HandleFunc("GET /api/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func Run() error {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)

	registry := rooms.NewRegistry(time.Duration(cfg.RoomTTLMinutes) * time.Minute)
	metrics.RegisterActiveRooms(registry.Len)

	srv := &Server{
		Cfg:      cfg,
		Registry: registry,
		Log:      logger,
	}

	if cfg.DatabaseURL != "" {
		database, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		if err := database.Migrate(); err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}
		srv.DB = database
		srv.Store = database
	} else {
		logger.Warn().Msg("DATABASE_URL not set, rooms will not survive a restart")
		srv.Store = db.NewMemStore()
	}

	srv.Manager = contest.NewManager(srv.Store, srv.Store, registry, db.VerifyPassword, logger)

	if cfg.RoomTTLMinutes > 0 {
		go srv.sweepStaleRooms(time.Duration(cfg.RoomTTLMinutes) * time.Minute)
	}

	addr := "0.0.0.0:" + cfg.Port
	logger.Info().Str("addr", addr).Msg("server listening")
	return http.ListenAndServe(addr, srv.Routes())
}

// sweepStaleRooms deletes waiting rooms that outlived ttl from the
// persistent store. The registry's own sweep handles the in-memory side.
func (s *Server) sweepStaleRooms(ttl time.Duration) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		n, err := s.Store.DeleteStaleRooms(context.Background(), time.Now().Add(-ttl))
		if err != nil {
			s.Log.Error().Err(err).Msg("sweeping stale rooms")
			continue
		}
		if n > 0 {
			s.Log.Info().Int64("rooms", n).Msg("deleted stale waiting rooms")
		}
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	var out io.Writer = os.Stdout
	if lvl <= zerolog.DebugLevel {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
