// internal/httpserver/server.go
//
// HTTP server wiring for the grid memory game.
// Responsibilities:
//   - Router + middleware (request IDs, real IP, request logging, panic
//     recovery; JSON, CORS and timeouts on /api).
//   - Public endpoints: "/" (browser client), "/static/*", "/health".
//   - Game endpoints (optional auth): POST /api/game/new, GET /api/game/{id},
//     POST /api/game/{id}/start|reset|click.
//   - Live view: GET /ws/{id} (WebSocket, see ws.go).
//   - Auth, stats and leaderboard routes (auth.go, routes_scores.go).
//   - Recording finished games to the results store.
//
// Notes:
//   - A game session belongs to whoever created it: the signed-in user or
//     the anonymous cookie. Other callers get 404.
//   - Game state lives only in memory; only finished-game results reach the DB.

package httpserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/gridmemory/assets"
	"github.com/robalobadob/gridmemory/internal/config"
	"github.com/robalobadob/gridmemory/internal/game"
	"github.com/robalobadob/gridmemory/internal/scores"
	"github.com/robalobadob/gridmemory/internal/session"
	"github.com/robalobadob/gridmemory/internal/store"
)

const recordTimeout = 5 * time.Second

// Server bundles router, session store, DB handle and results store.
type Server struct {
	r      *chi.Mux
	http   *http.Server
	cfg    config.Config
	store  store.Store
	db     *sql.DB
	scores *scores.Store

	// gameOpts are applied to every new controller (tests swap the scheduler).
	gameOpts []game.Option
	writes   sync.WaitGroup
}

// New constructs a Server, installs middleware, and registers routes.
func New(cfg config.Config, st store.Store, db *sql.DB) *Server {
	s := &Server{
		r:      chi.NewRouter(),
		cfg:    cfg,
		store:  st,
		db:     db,
		scores: scores.NewStore(db),
	}
	s.http = &http.Server{
		Handler:           s.r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// --- middleware ---
	s.r.Use(chimw.RequestID) // add X-Request-ID
	s.r.Use(chimw.RealIP)    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(requestLogger)   // one zerolog line per request
	s.r.Use(chimw.Recoverer) // recover from panics

	// --- diagnostics ---
	s.r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	// --- browser client ---
	s.r.Get("/", s.handleIndex)
	s.r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(assets.Web))))

	// Live view: outside /api so the handler timeout does not cut it off.
	s.r.With(s.withOptionalAuth()).Get("/ws/{id}", s.handleWS)

	s.r.Route("/api", func(api chi.Router) {
		api.Use(chimw.Timeout(10 * time.Second)) // bound handler time
		api.Use(jsonContentType)                 // default JSON responses
		api.Use(s.cors)                          // credentials-friendly CORS

		api.With(s.withOptionalAuth()).Post("/game/new", s.handleNewGame)
		api.Route("/game/{id}", func(g chi.Router) {
			g.Use(s.withOptionalAuth(), s.withSession)
			g.Get("/", s.handleSnapshot)
			g.Post("/start", s.handleStart)
			g.Post("/reset", s.handleReset)
			g.Post("/click", s.handleClick)
		})

		s.mountAuthRoutes(api)
		s.mountScores(api)

		// JSON 404 for easier debugging
		api.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "not_found")
		})
	})

	return s
}

// Start begins serving HTTP on addr. Returns http.ErrServerClosed after Shutdown.
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	return s.http.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight result writes.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.writes.Wait()
	return err
}

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// cors enables credentialed CORS for the configured client origin.
func (s *Server) cors(next http.Handler) http.Handler {
	origin := s.cfg.ClientOrigin
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger writes one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("reqId", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

type ctxSessionKey struct{}

// withSession loads {id} from the store and rejects callers that do not own it.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.ownedSession(r, chi.URLParam(r, "id"))
		if !ok {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		ctx := context.WithValue(r.Context(), ctxSessionKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ownedSession returns the session if the requester owns it.
func (s *Server) ownedSession(r *http.Request, id string) (*session.Session, bool) {
	sess, err := s.store.Get(r.Context(), id)
	if err != nil {
		return nil, false
	}
	if me := currentUser(r); me != nil && sess.Owner.UserID == me.ID {
		return sess, true
	}
	if c, err := r.Cookie(anonCookieName); err == nil && c.Value != "" && c.Value == sess.Owner.AnonID {
		return sess, true
	}
	return nil, false
}

// ------------------------------ GAME ---------------------------------------

// handleIndex serves the embedded browser client.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	b, err := fs.ReadFile(assets.Web, "index.html")
	if err != nil {
		http.Error(w, "client missing", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(b)
}

type newGameRes struct {
	GameID string `json:"gameId"`
}

// handleNewGame creates an idle game session owned by the caller.
func (s *Server) handleNewGame(w http.ResponseWriter, r *http.Request) {
	owner := session.Owner{AnonID: s.ensureAnonID(w, r)}
	if me := currentUser(r); me != nil {
		owner.UserID = me.ID
	}

	sess := session.New(owner, s.recordResult, s.gameOpts...)
	if err := s.store.Save(r.Context(), sess); err != nil {
		log.Error().Err(err).Msg("save session")
		writeError(w, http.StatusInternalServerError, "save_failed")
		return
	}
	log.Info().Str("gameId", sess.ID).Str("user", owner.UserID).Msg("game created")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(newGameRes{GameID: sess.ID})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(sessionFrom(r).Snapshot())
}

// handleStart begins a new game in the session; 409 while one is running.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if err := sess.Start(); err != nil {
		writeGameError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(sess.Snapshot())
}

// handleReset reinitializes the session's game, whatever it was doing.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if err := sess.Reset(); err != nil {
		writeGameError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(sess.Snapshot())
}

type clickReq struct {
	Index *int `json:"index"`
}
type clickRes struct {
	Outcome game.Outcome  `json:"outcome"`
	State   game.Snapshot `json:"state"`
}

// handleClick forwards a cell click and reports what it did.
func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var req clickReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil {
		writeError(w, http.StatusBadRequest, "bad_json")
		return
	}
	sess := sessionFrom(r)
	out, err := sess.Click(*req.Index)
	if err != nil {
		writeGameError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(clickRes{Outcome: out, State: sess.Snapshot()})
}

// recordResult persists a lost game without blocking the controller.
func (s *Server) recordResult(sess *session.Session, r game.Result) {
	res := scores.Result{
		SessionID:   sess.ID,
		UserID:      sess.Owner.UserID,
		Level:       r.Level,
		Score:       r.Score,
		GridSize:    r.GridSize,
		SequenceLen: r.SequenceLength,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
	if res.UserID == "" {
		res.AnonID = sess.Owner.AnonID
	}

	s.writes.Add(1)
	go func() {
		defer s.writes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := s.scores.Record(ctx, res); err != nil {
			log.Warn().Err(err).Str("gameId", res.SessionID).Msg("record result")
			return
		}
		log.Info().Str("gameId", res.SessionID).Int("score", res.Score).Int("level", res.Level).Msg("game over")
	}()
}

// ------------------------------- small util --------------------------------

func sessionFrom(r *http.Request) *session.Session {
	return r.Context().Value(ctxSessionKey{}).(*session.Session)
}

// writeError sends {"error": code} with status.
func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

// gameErrorCode maps controller errors to a status and wire code.
func gameErrorCode(err error) (int, string) {
	switch {
	case errors.Is(err, game.ErrGameInProgress):
		return http.StatusConflict, "game_in_progress"
	case errors.Is(err, game.ErrCellOutOfRange):
		return http.StatusBadRequest, "cell_out_of_range"
	case errors.Is(err, game.ErrClosed):
		return http.StatusGone, "game_closed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeGameError(w http.ResponseWriter, err error) {
	status, code := gameErrorCode(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("game command")
	}
	writeError(w, status, code)
}
