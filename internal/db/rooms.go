package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"typeflow/internal/rooms"
)

const roomColumns = `room_id, name, host_user_id, host_user_name, host_user_image,
	is_public, password_hash, mode, time_limit, word_count, difficulty,
	status, max_participants, created_at, started_at, ended_at, test_text`

func scanRoom(row interface{ Scan(...any) error }) (*rooms.Record, error) {
	var rec rooms.Record
	err := row.Scan(
		&rec.RoomID, &rec.Name, &rec.HostUserID, &rec.HostUserName, &rec.HostUserImage,
		&rec.IsPublic, &rec.PasswordHash, &rec.Settings.Mode, &rec.Settings.TimeLimit,
		&rec.Settings.WordCount, &rec.Settings.Difficulty,
		&rec.Status, &rec.MaxParticipants, &rec.CreatedAt, &rec.StartedAt, &rec.EndedAt, &rec.TestText,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateRoom inserts the room row with the host as its first participant,
// in one transaction.
func (d *Store) CreateRoom(ctx context.Context, rec *rooms.Record) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rooms (room_id, name, host_user_id, host_user_name, host_user_image,
			is_public, password_hash, mode, time_limit, word_count, difficulty,
			status, max_participants, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, rec.RoomID, rec.Name, rec.HostUserID, rec.HostUserName, rec.HostUserImage,
		rec.IsPublic, rec.PasswordHash, rec.Settings.Mode, rec.Settings.TimeLimit,
		rec.Settings.WordCount, rec.Settings.Difficulty,
		rec.Status, rec.MaxParticipants, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting room: %w", err)
	}

	for _, p := range rec.Participants {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO room_participants (room_id, user_id, user_name, user_image, joined_at)
			VALUES ($1, $2, $3, $4, $5)
		`, rec.RoomID, p.UserID, p.UserName, p.UserImage, p.JoinedAt)
		if err != nil {
			return fmt.Errorf("inserting participant: %w", err)
		}
	}

	return tx.Commit()
}

// GetRoom loads a room record with its participants. Returns (nil, nil)
// when no such room exists.
func (d *Store) GetRoom(ctx context.Context, roomID string) (*rooms.Record, error) {
	row := d.conn.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE room_id = $1`, roomID)
	rec, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading room: %w", err)
	}

	rows, err := d.conn.QueryContext(ctx, `
		SELECT user_id, user_name, user_image, joined_at
		FROM room_participants WHERE room_id = $1 ORDER BY joined_at
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("loading participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p rooms.Participant
		if err := rows.Scan(&p.UserID, &p.UserName, &p.UserImage, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		rec.Participants = append(rec.Participants, p)
	}
	return rec, rows.Err()
}

func (d *Store) AddParticipant(ctx context.Context, roomID string, p rooms.Participant) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO room_participants (room_id, user_id, user_name, user_image, joined_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (room_id, user_id) DO NOTHING
	`, roomID, p.UserID, p.UserName, p.UserImage, p.JoinedAt)
	if err != nil {
		return fmt.Errorf("adding participant: %w", err)
	}
	return nil
}

func (d *Store) RemoveParticipant(ctx context.Context, roomID, userID string) error {
	_, err := d.conn.ExecContext(ctx, `
		DELETE FROM room_participants WHERE room_id = $1 AND user_id = $2
	`, roomID, userID)
	if err != nil {
		return fmt.Errorf("removing participant: %w", err)
	}
	return nil
}

func (d *Store) SetHost(ctx context.Context, roomID string, host rooms.Participant) error {
	_, err := d.conn.ExecContext(ctx, `
		UPDATE rooms SET host_user_id = $2, host_user_name = $3, host_user_image = $4
		WHERE room_id = $1
	`, roomID, host.UserID, host.UserName, host.UserImage)
	if err != nil {
		return fmt.Errorf("setting host: %w", err)
	}
	return nil
}

// SetStatus persists a contest transition. An active transition records
// started_at and the contest text; a finished transition records
// ended_at.
func (d *Store) SetStatus(ctx context.Context, roomID string, status rooms.Status, at time.Time, testText string) error {
	var err error
	switch status {
	case rooms.StatusActive:
		_, err = d.conn.ExecContext(ctx, `
			UPDATE rooms SET status = $2, started_at = $3, test_text = $4 WHERE room_id = $1
		`, roomID, status, at, testText)
	case rooms.StatusFinished:
		_, err = d.conn.ExecContext(ctx, `
			UPDATE rooms SET status = $2, ended_at = $3 WHERE room_id = $1
		`, roomID, status, at)
	default:
		_, err = d.conn.ExecContext(ctx, `
			UPDATE rooms SET status = $2 WHERE room_id = $1
		`, roomID, status)
	}
	if err != nil {
		return fmt.Errorf("setting status: %w", err)
	}
	return nil
}

func (d *Store) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := d.conn.ExecContext(ctx, `DELETE FROM rooms WHERE room_id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}
	return nil
}

// DeleteStaleRooms removes waiting rooms created before cutoff and
// returns how many were deleted.
func (d *Store) DeleteStaleRooms(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.conn.ExecContext(ctx, `
		DELETE FROM rooms WHERE status = 'waiting' AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting stale rooms: %w", err)
	}
	return res.RowsAffected()
}

// ListPublicRooms returns public rooms still waiting for participants,
// newest first.
func (d *Store) ListPublicRooms(ctx context.Context, limit, skip int) ([]rooms.Record, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT `+roomColumns+` FROM rooms
		WHERE is_public AND status = 'waiting'
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}
	return d.collectRooms(ctx, rows)
}

// SearchPublicRooms matches waiting public rooms by name or exact code.
func (d *Store) SearchPublicRooms(ctx context.Context, query string, limit int) ([]rooms.Record, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT `+roomColumns+` FROM rooms
		WHERE is_public AND status = 'waiting'
		  AND (name ILIKE '%' || $1 || '%' OR room_id = upper($1))
		ORDER BY created_at DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching rooms: %w", err)
	}
	return d.collectRooms(ctx, rows)
}

func (d *Store) collectRooms(ctx context.Context, rows *sql.Rows) ([]rooms.Record, error) {
	defer rows.Close()

	var out []rooms.Record
	for rows.Next() {
		rec, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Participant counts matter for the room browser; load them per room.
	for i := range out {
		full, err := d.GetRoom(ctx, out[i].RoomID)
		if err != nil {
			return nil, err
		}
		if full != nil {
			out[i].Participants = full.Participants
		}
	}
	return out, nil
}
