// internal/scores/store.go
//
// SQLite-backed record of finished games.
// Responsibilities:
//   - Insert one results row per lost game (owner: user or anonymous id).
//   - Keep per-user counters (games played, best score, best level) in step.
//   - Leaderboard, per-user history and stats queries.
//   - Move anonymous results onto an account after signup/login.

package scores

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Result is a finished game as recorded.
type Result struct {
	SessionID   string
	UserID      string // empty for guests
	AnonID      string // empty for signed-in players
	Level       int
	Score       int
	GridSize    int
	SequenceLen int
	StartedAt   time.Time
	FinishedAt  time.Time
}

// LBRow is one leaderboard line.
type LBRow struct {
	Player     string `json:"player"`
	Score      int    `json:"score"`
	Level      int    `json:"level"`
	FinishedAt string `json:"finishedAt"`
}

// HistoryRow is one of a player's past games.
type HistoryRow struct {
	SessionID  string `json:"sessionId"`
	Score      int    `json:"score"`
	Level      int    `json:"level"`
	GridSize   int    `json:"gridSize"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt"`
}

// Stats are a player's aggregate counters.
type Stats struct {
	GamesPlayed int `json:"gamesPlayed"`
	BestScore   int `json:"bestScore"`
	BestLevel   int `json:"bestLevel"`
}

type Store struct{ db *sql.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Record inserts r and, for signed-in players, bumps their counters in the
// same transaction.
func (s *Store) Record(ctx context.Context, r Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO results
            (session_id, user_id, anonymous_id, level, score, grid_size, sequence_len, started_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, nullable(r.UserID), nullable(r.AnonID), r.Level, r.Score, r.GridSize, r.SequenceLen,
		stamp(r.StartedAt), stamp(r.FinishedAt),
	); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	if r.UserID != "" {
		if _, err := tx.ExecContext(ctx, `
            UPDATE users
            SET games_played = games_played + 1,
                best_score   = MAX(best_score, ?),
                best_level   = MAX(best_level, ?)
            WHERE id = ?`, r.Score, r.Level, r.UserID,
		); err != nil {
			return fmt.Errorf("bump stats: %w", err)
		}
	}
	return tx.Commit()
}

/**
 * Leaderboard returns the best games of all time.
 *
 * - Ordered by score DESC, then finished_at ASC (earlier wins ties).
 * - Guests appear as "guest".
 * - Default limit is 20 if not specified.
 */
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]LBRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT COALESCE(u.username, 'guest'), r.score, r.level, r.finished_at
        FROM results r
        LEFT JOIN users u ON u.id = r.user_id
        ORDER BY r.score DESC, r.finished_at ASC, r.id ASC
        LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]LBRow, 0, limit)
	for rows.Next() {
		var r LBRow
		if err := rows.Scan(&r.Player, &r.Score, &r.Level, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// History lists a user's most recent games, newest first.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]HistoryRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT session_id, score, level, grid_size, started_at, finished_at
        FROM results
        WHERE user_id = ?
        ORDER BY finished_at DESC, id DESC
        LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []HistoryRow{}
	for rows.Next() {
		var h HistoryRow
		if err := rows.Scan(&h.SessionID, &h.Score, &h.Level, &h.GridSize, &h.StartedAt, &h.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Stats returns a user's counters; sql.ErrNoRows if the user is unknown.
func (s *Store) Stats(ctx context.Context, userID string) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT games_played, best_score, best_level FROM users WHERE id = ?`, userID,
	).Scan(&st.GamesPlayed, &st.BestScore, &st.BestLevel)
	return st, err
}

// ClaimAnon moves anonymous results onto userID and recomputes the
// user's counters from their full history.
func (s *Store) ClaimAnon(ctx context.Context, anonID, userID string) error {
	if anonID == "" || userID == "" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE results SET user_id = ?, anonymous_id = NULL WHERE anonymous_id = ?`, userID, anonID)
	if err != nil {
		return fmt.Errorf("claim results: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
        UPDATE users SET
            games_played = (SELECT COUNT(*) FROM results WHERE user_id = ?),
            best_score   = (SELECT COALESCE(MAX(score), 0) FROM results WHERE user_id = ?),
            best_level   = (SELECT COALESCE(MAX(level), 0) FROM results WHERE user_id = ?)
        WHERE id = ?`, userID, userID, userID, userID,
	); err != nil {
		return fmt.Errorf("recompute stats: %w", err)
	}
	return tx.Commit()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// stamp formats t as RFC3339 UTC so text ordering matches time ordering.
func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}
