// internal/httpserver/ws.go
//
// GET /ws/{id}: live view of a game session.
// The server pushes state/render/display/message/controls frames; the client
// sends start, reset and click commands. Rejected commands come back as an
// error frame on the same connection only.

package httpserver

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/gridmemory/internal/protocol"
	"github.com/robalobadob/gridmemory/internal/session"
)

const (
	wsSendQueue    = 64
	wsReadLimit    = 4 << 10
	wsPongWait     = 60 * time.Second
	wsPingInterval = 25 * time.Second
	wsWriteWait    = 10 * time.Second
)

var (
	errQueueFull  = errors.New("send queue full")
	errConnClosed = errors.New("connection closed")
)

// upgrader accepts same-host pages and the configured client origin.
func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || origin == s.cfg.ClientOrigin {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && u.Host == r.Host
		},
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(r, chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade")
		return
	}

	wc := newWSConn(conn)
	go wc.writePump()
	defer wc.Close()

	unsubscribe, err := sess.Subscribe(wc)
	if err != nil {
		log.Debug().Err(err).Str("gameId", sess.ID).Msg("ws subscribe")
		return
	}
	defer unsubscribe()

	log.Debug().Str("gameId", sess.ID).Msg("ws connected")
	wc.readLoop(sess)
	log.Debug().Str("gameId", sess.ID).Msg("ws disconnected")
}

// wsConn is a session.Conn backed by a WebSocket. Send never blocks: frames
// are queued for writePump, and a full queue is reported as an error so the
// session drops the subscriber.
type wsConn struct {
	conn      *websocket.Conn
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn: conn,
		out:  make(chan []byte, wsSendQueue),
		done: make(chan struct{}),
	}
}

func (c *wsConn) Send(b []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.out <- b:
		return nil
	default:
		return errQueueFull
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case b := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// readLoop dispatches client commands until the connection drops.
func (c *wsConn) readLoop(sess *session.Session) {
	c.conn.SetReadLimit(wsReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("gameId", sess.ID).Msg("ws read")
			}
			return
		}
		if err := dispatch(sess, msg); err != nil {
			_, code := gameErrorCode(err)
			if errors.Is(err, errBadFrame) {
				code = "bad_frame"
			}
			if b, encErr := protocol.Encode(protocol.MsgError, protocol.Error{Code: code}); encErr == nil {
				_ = c.Send(b)
			}
		}
	}
}

var errBadFrame = errors.New("bad frame")

// dispatch applies one client frame to the session.
func dispatch(sess *session.Session, msg []byte) error {
	env, err := protocol.DecodeEnvelope(msg)
	if err != nil {
		return errBadFrame
	}
	switch env.T {
	case protocol.MsgStart:
		return sess.Start()
	case protocol.MsgReset:
		return sess.Reset()
	case protocol.MsgClick:
		c, err := protocol.DecodePayload[protocol.Click](env)
		if err != nil {
			return errBadFrame
		}
		_, err = sess.Click(c.Index)
		return err
	default:
		return errBadFrame
	}
}
