package db

import (
	"context"
	"testing"
	"time"

	"typeflow/internal/rooms"
)

func TestMemStore_DeleteStaleRooms(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	_ = s.CreateRoom(ctx, &rooms.Record{RoomID: "STALE1", Status: rooms.StatusWaiting, CreatedAt: old})
	_ = s.CreateRoom(ctx, &rooms.Record{RoomID: "FRESH1", Status: rooms.StatusWaiting, CreatedAt: time.Now()})
	_ = s.CreateRoom(ctx, &rooms.Record{RoomID: "LIVE01", Status: rooms.StatusActive, CreatedAt: old})

	n, err := s.DeleteStaleRooms(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	if rec, _ := s.GetRoom(ctx, "STALE1"); rec != nil {
		t.Error("stale waiting room should be deleted")
	}
	if rec, _ := s.GetRoom(ctx, "FRESH1"); rec == nil {
		t.Error("fresh room should survive the sweep")
	}
	if rec, _ := s.GetRoom(ctx, "LIVE01"); rec == nil {
		t.Error("active room should survive the sweep regardless of age")
	}
}

func TestMemStore_Leaderboard(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	// Two results for u1; only the best counts
	_ = s.SaveResult(ctx, &rooms.Result{RoomID: "R1", UserID: "u1", WPM: 90})
	_ = s.SaveResult(ctx, &rooms.Result{RoomID: "R2", UserID: "u1", WPM: 110})
	_ = s.SaveResult(ctx, &rooms.Result{RoomID: "R1", UserID: "u2", WPM: 100})

	top, err := s.Leaderboard(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != 2 {
		t.Fatalf("leaderboard size = %d, want 2", len(top))
	}
	if top[0].UserID != "u1" || top[0].WPM != 110 {
		t.Errorf("top entry = %+v, want u1 at 110", top[0])
	}
	if top[1].UserID != "u2" {
		t.Errorf("second entry = %+v, want u2", top[1])
	}
}
