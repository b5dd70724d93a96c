// internal/httpserver/routes_scores.go
//
// Read-only views over recorded results:
//   - GET /api/leaderboard?limit=N → best games of all time (default 20, max 100)
//   - GET /api/stats/me            → caller's counters (auth required)
//   - GET /api/games/mine          → caller's recent games (auth required)

package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/gridmemory/internal/scores"
)

const maxLeaderboard = 100

func (s *Server) mountScores(r chi.Router) {
	r.Get("/leaderboard", s.handleLeaderboard)
	r.With(s.requireAuth()).Get("/stats/me", s.handleStatsMe)
	r.With(s.requireAuth()).Get("/games/mine", s.handleGamesMine)
}

// lbRes is returned by /leaderboard.
type lbRes struct {
	Top []scores.LBRow `json:"top"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_limit")
			return
		}
		limit = min(n, maxLeaderboard)
	}
	rows, err := s.scores.Leaderboard(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("leaderboard")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	_ = json.NewEncoder(w).Encode(lbRes{Top: rows})
}

func (s *Server) handleStatsMe(w http.ResponseWriter, r *http.Request) {
	me := currentUser(r)
	st, err := s.scores.Stats(r.Context(), me.ID)
	if err != nil {
		log.Error().Err(err).Str("user", me.ID).Msg("stats")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":          me.ID,
		"username":    me.Username,
		"gamesPlayed": st.GamesPlayed,
		"bestScore":   st.BestScore,
		"bestLevel":   st.BestLevel,
	})
}

func (s *Server) handleGamesMine(w http.ResponseWriter, r *http.Request) {
	me := currentUser(r)
	rows, err := s.scores.History(r.Context(), me.ID, 50)
	if err != nil {
		log.Error().Err(err).Str("user", me.ID).Msg("history")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	_ = json.NewEncoder(w).Encode(rows)
}
