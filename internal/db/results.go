package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"typeflow/internal/rooms"
)

func (d *Store) SaveResult(ctx context.Context, res *rooms.Result) error {
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO room_results (id, room_id, user_id, user_name, user_image,
			wpm, accuracy, elapsed_time, position, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, res.ID, res.RoomID, res.UserID, res.UserName, res.UserImage,
		res.WPM, res.Accuracy, res.ElapsedTime, res.Position, res.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving result: %w", err)
	}
	return nil
}

// ResultsByRoom returns a room's results in placement order.
func (d *Store) ResultsByRoom(ctx context.Context, roomID string) ([]rooms.Result, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, room_id, user_id, user_name, user_image,
			wpm, accuracy, elapsed_time, position, created_at
		FROM room_results WHERE room_id = $1 ORDER BY position
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("loading results: %w", err)
	}
	return collectResults(rows)
}

// Leaderboard returns each user's best result across all contests,
// fastest first.
func (d *Store) Leaderboard(ctx context.Context, limit int) ([]rooms.Result, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT DISTINCT ON (user_id) id, room_id, user_id, user_name, user_image,
			wpm, accuracy, elapsed_time, position, created_at
		FROM room_results
		ORDER BY user_id, wpm DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("loading leaderboard: %w", err)
	}
	results, err := collectResults(rows)
	if err != nil {
		return nil, err
	}

	// DISTINCT ON forces user_id ordering; re-sort by wpm here.
	sort.Slice(results, func(i, j int) bool { return results[i].WPM > results[j].WPM })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func collectResults(rows *sql.Rows) ([]rooms.Result, error) {
	defer rows.Close()

	var out []rooms.Result
	for rows.Next() {
		var r rooms.Result
		err := rows.Scan(&r.ID, &r.RoomID, &r.UserID, &r.UserName, &r.UserImage,
			&r.WPM, &r.Accuracy, &r.ElapsedTime, &r.Position, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
