// internal/game/types.go
//
// Core type definitions for the grid memory game.
// Defines:
//   - Phase: where the controller is in the playback/input cycle.
//   - MessageKind: tone of a status message (neutral/success/error).
//   - Outcome: what a single cell click did to the round.
//   - Controls, Snapshot, Result: values handed to views and recorders.

package game

import "time"

// Phase is the controller's position in the turn cycle.
type Phase string

const (
	PhaseIdle          Phase = "idle"           // before the first Start or after Reset
	PhasePending       Phase = "pending"        // lead-in delay before playback
	PhasePlayback      Phase = "playback"       // sequence is being revealed
	PhaseAwaitingInput Phase = "awaiting_input" // player reproduces the sequence
	PhaseRoundSuccess  Phase = "round_success"  // round cleared, next level queued
	PhaseFailed        Phase = "failed"         // mismatch, replay queued
	PhaseReplay        Phase = "replay"         // correct sequence being replayed
	PhaseFinished      Phase = "finished"       // terminal display after replay
)

// MessageKind is the tone of a status message.
type MessageKind string

const (
	MessageNeutral MessageKind = "neutral"
	MessageSuccess MessageKind = "success"
	MessageError   MessageKind = "error"
)

// Outcome reports what a click did.
type Outcome string

const (
	OutcomeIgnored       Outcome = "ignored"        // not accepting input
	OutcomeAccepted      Outcome = "accepted"       // correct, round continues
	OutcomeRoundComplete Outcome = "round_complete" // correct, sequence reproduced
	OutcomeMismatch      Outcome = "mismatch"       // wrong cell, game over
)

// Controls tells the view which triggers are usable.
type Controls struct {
	StartEnabled bool `json:"startEnabled"`
	ResetEnabled bool `json:"resetEnabled"`
}

// Snapshot is a read-only copy of the game state.
// Sequence is only populated once the game is no longer in play.
type Snapshot struct {
	Level             int   `json:"level"`
	Score             int   `json:"score"`
	GridSize          int   `json:"gridSize"`
	Phase             Phase `json:"phase"`
	IsPlaying         bool  `json:"isPlaying"`
	IsShowingSequence bool  `json:"isShowingSequence"`
	SequenceLength    int   `json:"sequenceLength"`
	UserSequence      []int `json:"userSequence"`
	Sequence          []int `json:"sequence,omitempty"`
}

// Result summarizes a finished game (handed to the game-over hook).
type Result struct {
	Level          int
	Score          int
	GridSize       int
	SequenceLength int
	StartedAt      time.Time
	FinishedAt     time.Time
}

// View is the frame a newly attached view needs to draw.
type View struct {
	Snapshot Snapshot
	Grid     Grid
	Message  string
	Kind     MessageKind
	Controls Controls
}

// Sink receives everything a view needs to draw the game.
// Methods are called with the controller lock held and must not call back
// into the Controller.
type Sink interface {
	Render(g Grid)
	Display(level, score int)
	Message(text string, kind MessageKind)
	Controls(c Controls)
}
