// internal/session/session.go
//
// A Session binds one game.Controller to the views watching it.
// Responsibilities:
//   - Fan every Sink event out to subscribed connections as protocol frames.
//   - Send a full state frame to a view when it subscribes.
//   - Drop connections that cannot keep up (Send error).
//   - Track who owns the game and when it was last touched.
//
// Lock order is controller → session: Sink callbacks arrive with the
// controller lock held and then take s.mu, so nothing here may call into
// the controller while holding s.mu.

package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/gridmemory/internal/game"
	"github.com/robalobadob/gridmemory/internal/protocol"
)

// Conn is a subscribed view.
type Conn interface {
	Send([]byte) error
	Close() error
}

// Owner identifies the player: a registered user or an anonymous cookie.
type Owner struct {
	UserID string
	AnonID string
}

// GameOverFunc is called when a game in the session is lost.
// It runs with the controller lock held and must not block.
type GameOverFunc func(s *Session, r game.Result)

type Session struct {
	ID        string
	Owner     Owner
	CreatedAt time.Time

	ctl        *game.Controller
	lastActive atomic.Int64

	mu     sync.Mutex
	subs   map[uint64]Conn
	nextID uint64
	closed bool
}

// New creates a session with a fresh idle game.
func New(owner Owner, onGameOver GameOverFunc, opts ...game.Option) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Owner:     owner,
		CreatedAt: time.Now(),
		subs:      make(map[uint64]Conn),
	}
	s.touch()
	if onGameOver != nil {
		opts = append(opts, game.WithGameOver(func(r game.Result) { onGameOver(s, r) }))
	}
	s.ctl = game.New(fanout{s}, opts...)
	return s
}

func (s *Session) Start() error {
	s.touch()
	return s.ctl.Start()
}

func (s *Session) Reset() error {
	s.touch()
	return s.ctl.Reset()
}

func (s *Session) Click(index int) (game.Outcome, error) {
	s.touch()
	return s.ctl.Click(index)
}

func (s *Session) Snapshot() game.Snapshot { return s.ctl.Snapshot() }

// LastActive is the time of the last command or subscription.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) touch() { s.lastActive.Store(time.Now().UnixNano()) }

// Subscribe attaches c, sends it the current state and returns a function
// that detaches it again.
func (s *Session) Subscribe(c Conn) (unsubscribe func(), err error) {
	s.touch()
	var id uint64
	s.ctl.Observe(func(v game.View) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			err = game.ErrClosed
			return
		}
		b, encErr := protocol.Encode(protocol.MsgState, protocol.State{
			GameID:   s.ID,
			Snapshot: v.Snapshot,
			Grid:     v.Grid,
			Message:  protocol.Message{Text: v.Message, Kind: v.Kind},
			Controls: v.Controls,
		})
		if encErr != nil {
			err = encErr
			return
		}
		if err = c.Send(b); err != nil {
			return
		}
		s.nextID++
		id = s.nextID
		s.subs[id] = c
	})
	if err != nil {
		return func() {}, err
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}, nil
}

// Subscribers reports how many views are attached.
func (s *Session) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close stops the game and disconnects every view.
func (s *Session) Close() {
	s.ctl.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, c := range s.subs {
		_ = c.Close()
		delete(s.subs, id)
	}
}

func (s *Session) broadcast(t string, payload any) {
	b, err := protocol.Encode(t, payload)
	if err != nil {
		log.Error().Err(err).Str("session", s.ID).Str("type", t).Msg("encode frame")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.subs {
		if err := c.Send(b); err != nil {
			log.Debug().Err(err).Str("session", s.ID).Msg("dropping slow subscriber")
			_ = c.Close()
			delete(s.subs, id)
		}
	}
}

// fanout adapts a Session to game.Sink.
type fanout struct{ s *Session }

func (f fanout) Render(g game.Grid) { f.s.broadcast(protocol.MsgRender, g) }

func (f fanout) Display(level, score int) {
	f.s.broadcast(protocol.MsgDisplay, protocol.Display{Level: level, Score: score})
}

func (f fanout) Message(text string, kind game.MessageKind) {
	f.s.broadcast(protocol.MsgMessage, protocol.Message{Text: text, Kind: kind})
}

func (f fanout) Controls(c game.Controls) { f.s.broadcast(protocol.MsgControls, c) }
