package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/robalobadob/gridmemory/assets"
	"github.com/robalobadob/gridmemory/internal/config"
	"github.com/robalobadob/gridmemory/internal/database"
	"github.com/robalobadob/gridmemory/internal/game"
	"github.com/robalobadob/gridmemory/internal/store"
)

// queueScheduler holds timer callbacks until the test runs them. Handlers
// schedule from server goroutines, so the queue is locked.
type queueScheduler struct {
	mu    sync.Mutex
	queue []func()
}

type queuedTimer struct {
	mu      sync.Mutex
	stopped bool
}

func (t *queuedTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (q *queueScheduler) AfterFunc(_ time.Duration, f func()) game.Timer {
	t := &queuedTimer{}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queue = append(q.queue, func() {
		t.mu.Lock()
		stopped := t.stopped
		t.mu.Unlock()
		if !stopped {
			f()
		}
	})
	return t
}

func (q *queueScheduler) pop() func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return nil
	}
	f := q.queue[0]
	q.queue = q.queue[1:]
	return f
}

type testEnv struct {
	srv   *Server
	ts    *httptest.Server
	sched *queueScheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := database.Migrate(db, assets.Migrations); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Config{
		JWTSecret:      "test_secret",
		JWTExpiresDays: 1,
		CookieName:     "test_token",
		ClientOrigin:   "http://client.test",
	}
	sched := &queueScheduler{}
	srv := New(cfg, store.NewMemoryStore(), db)
	srv.gameOpts = []game.Option{
		game.WithScheduler(sched),
		game.WithRand(func(n int) int { return 0 }),
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		srv.writes.Wait()
		_ = db.Close()
	})
	return &testEnv{srv: srv, ts: ts, sched: sched}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar}
}

// call sends body as JSON (nil for none) and decodes the response into out.
func (e *testEnv) call(t *testing.T, c *http.Client, method, path string, body, out any) int {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return res.StatusCode
}

func (e *testEnv) newGame(t *testing.T, c *http.Client) string {
	t.Helper()
	var res newGameRes
	if code := e.call(t, c, http.MethodPost, "/api/game/new", nil, &res); code != http.StatusCreated {
		t.Fatalf("new game status = %d", code)
	}
	if res.GameID == "" {
		t.Fatalf("empty game id")
	}
	return res.GameID
}

// runUntil fires queued timers until the game reaches phase.
func (e *testEnv) runUntil(t *testing.T, id string, phase game.Phase) {
	t.Helper()
	sess, err := e.srv.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	for sess.Snapshot().Phase != phase {
		f := e.sched.pop()
		if f == nil {
			t.Fatalf("timers exhausted in phase %q, want %q", sess.Snapshot().Phase, phase)
		}
		f()
	}
}

func TestHealthAndIndex(t *testing.T) {
	e := newTestEnv(t)
	c := newClient(t)

	var health map[string]bool
	if code := e.call(t, c, http.MethodGet, "/health", nil, &health); code != http.StatusOK || !health["ok"] {
		t.Fatalf("health = %d %v", code, health)
	}

	res, err := c.Get(e.ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer res.Body.Close()
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("index content type = %q", ct)
	}

	js, err := c.Get(e.ts.URL + "/static/app.js")
	if err != nil {
		t.Fatalf("GET app.js: %v", err)
	}
	js.Body.Close()
	if js.StatusCode != http.StatusOK {
		t.Fatalf("app.js status = %d", js.StatusCode)
	}
}

func TestGameOverHTTP(t *testing.T) {
	e := newTestEnv(t)
	c := newClient(t)
	id := e.newGame(t, c)

	var snap game.Snapshot
	if code := e.call(t, c, http.MethodGet, "/api/game/"+id, nil, &snap); code != http.StatusOK {
		t.Fatalf("snapshot status = %d", code)
	}
	if snap.Phase != game.PhaseIdle || snap.GridSize != 2 {
		t.Fatalf("initial snapshot = %+v", snap)
	}

	if code := e.call(t, c, http.MethodPost, "/api/game/"+id+"/start", nil, &snap); code != http.StatusOK {
		t.Fatalf("start status = %d", code)
	}
	if !snap.IsPlaying || snap.SequenceLength != 1 {
		t.Fatalf("after start = %+v", snap)
	}
	var apiErr map[string]string
	if code := e.call(t, c, http.MethodPost, "/api/game/"+id+"/start", nil, &apiErr); code != http.StatusConflict || apiErr["error"] != "game_in_progress" {
		t.Fatalf("second start = %d %v", code, apiErr)
	}

	e.runUntil(t, id, game.PhaseAwaitingInput)

	var click clickRes
	if code := e.call(t, c, http.MethodPost, "/api/game/"+id+"/click", map[string]int{"index": 1}, &click); code != http.StatusOK {
		t.Fatalf("click status = %d", code)
	}
	if click.Outcome != game.OutcomeMismatch || click.State.IsPlaying || click.State.Score != 0 {
		t.Fatalf("click = %+v", click)
	}
	if len(click.State.Sequence) != 1 || click.State.Sequence[0] != 0 {
		t.Fatalf("sequence not revealed after game over: %+v", click.State)
	}

	e.srv.writes.Wait()
	var lb lbRes
	if code := e.call(t, c, http.MethodGet, "/api/leaderboard", nil, &lb); code != http.StatusOK {
		t.Fatalf("leaderboard status = %d", code)
	}
	if len(lb.Top) != 1 || lb.Top[0].Player != "guest" || lb.Top[0].Level != 1 {
		t.Fatalf("leaderboard = %+v", lb.Top)
	}
}

func TestRoundSuccessHTTP(t *testing.T) {
	e := newTestEnv(t)
	c := newClient(t)
	id := e.newGame(t, c)
	e.call(t, c, http.MethodPost, "/api/game/"+id+"/start", nil, nil)
	e.runUntil(t, id, game.PhaseAwaitingInput)

	var click clickRes
	e.call(t, c, http.MethodPost, "/api/game/"+id+"/click", map[string]int{"index": 0}, &click)
	if click.Outcome != game.OutcomeRoundComplete || click.State.Score != 10 {
		t.Fatalf("click = %+v", click)
	}
	e.runUntil(t, id, game.PhaseAwaitingInput)

	var snap game.Snapshot
	e.call(t, c, http.MethodGet, "/api/game/"+id, nil, &snap)
	if snap.Level != 2 || snap.GridSize != 3 || snap.SequenceLength != 2 || len(snap.UserSequence) != 0 {
		t.Fatalf("level 2 snapshot = %+v", snap)
	}
	if snap.Sequence != nil {
		t.Fatalf("sequence leaked while playing: %v", snap.Sequence)
	}
}

func TestClickValidation(t *testing.T) {
	e := newTestEnv(t)
	c := newClient(t)
	id := e.newGame(t, c)
	e.call(t, c, http.MethodPost, "/api/game/"+id+"/start", nil, nil)
	e.runUntil(t, id, game.PhaseAwaitingInput)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{name: "out of range", body: map[string]int{"index": 4}, status: http.StatusBadRequest, code: "cell_out_of_range"},
		{name: "negative", body: map[string]int{"index": -1}, status: http.StatusBadRequest, code: "cell_out_of_range"},
		{name: "missing index", body: map[string]int{}, status: http.StatusBadRequest, code: "bad_json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr map[string]string
			code := e.call(t, c, http.MethodPost, "/api/game/"+id+"/click", tt.body, &apiErr)
			if code != tt.status || apiErr["error"] != tt.code {
				t.Fatalf("got %d %v, want %d %q", code, apiErr, tt.status, tt.code)
			}
		})
	}
}

func TestResetDuringPlaybackHTTP(t *testing.T) {
	e := newTestEnv(t)
	c := newClient(t)
	id := e.newGame(t, c)
	e.call(t, c, http.MethodPost, "/api/game/"+id+"/start", nil, nil)
	e.runUntil(t, id, game.PhasePlayback)

	var snap game.Snapshot
	if code := e.call(t, c, http.MethodPost, "/api/game/"+id+"/reset", nil, &snap); code != http.StatusOK {
		t.Fatalf("reset status = %d", code)
	}
	if snap.Level != 1 || snap.Score != 0 || snap.GridSize != 2 ||
		snap.Phase != game.PhaseIdle || snap.SequenceLength != 0 || snap.IsPlaying {
		t.Fatalf("after reset = %+v", snap)
	}

	// Stale playback timers must not move the game.
	for f := e.sched.pop(); f != nil; f = e.sched.pop() {
		f()
	}
	e.call(t, c, http.MethodGet, "/api/game/"+id, nil, &snap)
	if snap.Phase != game.PhaseIdle {
		t.Fatalf("phase after draining timers = %q", snap.Phase)
	}
}

func TestSessionOwnership(t *testing.T) {
	e := newTestEnv(t)
	id := e.newGame(t, newClient(t))

	var apiErr map[string]string
	if code := e.call(t, newClient(t), http.MethodPost, "/api/game/"+id+"/start", nil, &apiErr); code != http.StatusNotFound {
		t.Fatalf("stranger start status = %d", code)
	}
	if code := e.call(t, newClient(t), http.MethodGet, "/api/game/nope", nil, &apiErr); code != http.StatusNotFound {
		t.Fatalf("unknown game status = %d", code)
	}
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t)
	req, _ := http.NewRequest(http.MethodOptions, e.ts.URL+"/api/game/new", nil)
	req.Header.Set("Origin", "http://client.test")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status = %d", res.StatusCode)
	}
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "http://client.test" {
		t.Fatalf("allow origin = %q", got)
	}
}
