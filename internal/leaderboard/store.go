// Package leaderboard persists won rounds and ranks them.
//
// Ranking: fastest first, then fewest moves, then earliest submission.
// Daily Challenge results are limited to one per player per date by a unique
// index; a second insert for the same player and date is ignored.
package leaderboard

import (
	"context"
	"database/sql"
	"errors"
)

const defaultLimit = 20

// Result is a single won round.
type Result struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Level      string `json:"level"`
	Daily      bool   `json:"daily"`
	Date       string `json:"date,omitempty"` // YYYY-MM-DD for daily results
	Moves      int    `json:"moves"`
	Misses     int    `json:"misses"`
	ElapsedMs  int64  `json:"elapsedMs"`
}

// Row is a leaderboard line.
type Row struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Moves      int    `json:"moves"`
	Misses     int    `json:"misses"`
	ElapsedMs  int64  `json:"elapsedMs"`
}

// Store reads and writes results in SQLite.
type Store struct{ db *sql.DB }

// NewStore wraps a migrated database handle.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Insert records a result. Daily results require a date.
func (s *Store) Insert(ctx context.Context, r Result) error {
	if r.PlayerID == "" || r.Level == "" {
		return errors.New("leaderboard: player and level are required")
	}
	if r.Daily && r.Date == "" {
		return errors.New("leaderboard: daily result without date")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO results
            (player_id, player_name, level, daily, date, moves, misses, elapsed_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.PlayerID, r.PlayerName, r.Level, r.Daily, r.Date, r.Moves, r.Misses, r.ElapsedMs,
	)
	return err
}

// AlreadyPlayed reports whether a player has a daily result for date.
func (s *Store) AlreadyPlayed(ctx context.Context, playerID, date string) (bool, error) {
	var cnt int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM results WHERE daily=1 AND player_id=? AND date=?`,
		playerID, date,
	).Scan(&cnt)
	return cnt > 0, err
}

// Top returns the best free-play results for a level.
func (s *Store) Top(ctx context.Context, level string, limit int) ([]Row, error) {
	return s.query(ctx, `WHERE daily=0 AND level=?`, level, limit)
}

// Daily returns the best Daily Challenge results for date.
func (s *Store) Daily(ctx context.Context, date string, limit int) ([]Row, error) {
	return s.query(ctx, `WHERE daily=1 AND date=?`, date, limit)
}

func (s *Store) query(ctx context.Context, where string, arg any, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT player_id, player_name, moves, misses, elapsed_ms
        FROM results `+where+`
        ORDER BY elapsed_ms ASC, moves ASC, created_at ASC, id ASC
        LIMIT ?`, arg, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Row, 0, limit)
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.PlayerID, &r.PlayerName, &r.Moves, &r.Misses, &r.ElapsedMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
