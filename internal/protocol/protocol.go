// internal/protocol/protocol.go
//
// WebSocket message vocabulary shared by the server and the browser client.
// Every frame is a JSON envelope {"t": <type>, "p": <payload>}.

package protocol

import (
	"encoding/json"

	"github.com/robalobadob/gridmemory/internal/game"
)

// Client → server.
const (
	MsgStart = "start"
	MsgReset = "reset"
	MsgClick = "click"
)

// Server → client.
const (
	MsgState    = "state"
	MsgRender   = "render"
	MsgDisplay  = "display"
	MsgMessage  = "message"
	MsgControls = "controls"
	MsgError    = "error"
)

type Envelope struct {
	T string          `json:"t"`
	P json.RawMessage `json:"p,omitempty"` // raw payload bytes
}

// Click is the payload of MsgClick.
type Click struct {
	Index int `json:"index"`
}

// Display carries the level and score counters.
type Display struct {
	Level int `json:"level"`
	Score int `json:"score"`
}

// Message is a status line for the player.
type Message struct {
	Text string           `json:"text"`
	Kind game.MessageKind `json:"kind"`
}

// State is sent once when a view subscribes so it can draw without waiting
// for the next event.
type State struct {
	GameID   string        `json:"gameId"`
	Snapshot game.Snapshot `json:"snapshot"`
	Grid     game.Grid     `json:"grid"`
	Message  Message       `json:"message"`
	Controls game.Controls `json:"controls"`
}

// Error reports a rejected client command.
type Error struct {
	Code string `json:"code"`
}
