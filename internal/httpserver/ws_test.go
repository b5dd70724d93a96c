package httpserver

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/robalobadob/gridmemory/internal/game"
	"github.com/robalobadob/gridmemory/internal/protocol"
)

func (e *testEnv) dialWS(t *testing.T, c *http.Client, id string) *websocket.Conn {
	t.Helper()
	u, err := url.Parse(e.ts.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	h := http.Header{}
	for _, ck := range c.Jar.Cookies(u) {
		h.Add("Cookie", ck.String())
	}
	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws/" + id
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, h)
	if err != nil {
		status := 0
		if res != nil {
			status = res.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil returns the first frame of type want, skipping others.
func readUntil(t *testing.T, conn *websocket.Conn, want string) protocol.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %q: %v", want, err)
		}
		env, err := protocol.DecodeEnvelope(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.T == want {
			return env
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	b, err := protocol.Encode(typ, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWebSocketInitialState(t *testing.T) {
	e := newTestEnv(t)
	c := newClient(t)
	id := e.newGame(t, c)
	conn := e.dialWS(t, c, id)

	env := readUntil(t, conn, protocol.MsgState)
	st, err := protocol.DecodePayload[protocol.State](env)
	if err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if st.GameID != id || st.Snapshot.Phase != game.PhaseIdle || len(st.Grid.Cells) != 4 {
		t.Fatalf("state = %+v", st)
	}
	if !st.Controls.StartEnabled || !st.Controls.ResetEnabled {
		t.Fatalf("controls = %+v", st.Controls)
	}
}

func TestWebSocketCommands(t *testing.T) {
	e := newTestEnv(t)
	c := newClient(t)
	id := e.newGame(t, c)
	conn := e.dialWS(t, c, id)
	readUntil(t, conn, protocol.MsgState)

	send(t, conn, protocol.MsgStart, struct{}{})
	env := readUntil(t, conn, protocol.MsgControls)
	ctl, err := protocol.DecodePayload[game.Controls](env)
	if err != nil {
		t.Fatalf("decode controls: %v", err)
	}
	if ctl.StartEnabled {
		t.Fatalf("start still enabled after start: %+v", ctl)
	}

	send(t, conn, protocol.MsgStart, struct{}{})
	env = readUntil(t, conn, protocol.MsgError)
	if perr, _ := protocol.DecodePayload[protocol.Error](env); perr.Code != "game_in_progress" {
		t.Fatalf("error code = %q", perr.Code)
	}

	e.runUntil(t, id, game.PhaseAwaitingInput)
	send(t, conn, protocol.MsgClick, protocol.Click{Index: 0})
	env = readUntil(t, conn, protocol.MsgDisplay)
	d, _ := protocol.DecodePayload[protocol.Display](env)
	if d.Score != 10 {
		t.Fatalf("display after clear = %+v", d)
	}
}

func TestWebSocketBadFrame(t *testing.T) {
	e := newTestEnv(t)
	c := newClient(t)
	id := e.newGame(t, c)
	conn := e.dialWS(t, c, id)
	readUntil(t, conn, protocol.MsgState)

	for _, frame := range []string{`not json`, `{"p":{}}`, `{"t":"dance"}`, `{"t":"click","p":"x"}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("write: %v", err)
		}
		env := readUntil(t, conn, protocol.MsgError)
		if perr, _ := protocol.DecodePayload[protocol.Error](env); perr.Code != "bad_frame" {
			t.Fatalf("%s: error code = %q", frame, perr.Code)
		}
	}
}

func TestWebSocketRejectsStranger(t *testing.T) {
	e := newTestEnv(t)
	id := e.newGame(t, newClient(t))

	wsURL := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws/" + id
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("stranger dial succeeded")
	}
	if res == nil || res.StatusCode != http.StatusNotFound {
		t.Fatalf("stranger dial response = %v", res)
	}
}
