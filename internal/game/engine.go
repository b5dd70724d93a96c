// internal/game/engine.go
//
// Core game engine for a single grid memory session.
// Responsibilities:
//   - Own the game state (level, score, sequence, player input, grid size).
//   - Drive the two-phase turn cycle: timed playback, then input checking.
//   - Report everything visible through a Sink (grid, level/score, messages,
//     which controls are usable).
//
// Notes:
//   - All timed steps go through a Scheduler and carry the epoch they were
//     scheduled in. Start, Reset and Close bump the epoch and stop pending
//     timers, so callbacks from an abandoned round never touch the state.
//   - The sequence keeps growing across levels; each round replays all of it.
package game

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"
)

const (
	leadInDelay    = 1000 * time.Millisecond // start/next level → playback
	stepGap        = 500 * time.Millisecond  // pause before each highlight
	stepHold       = 500 * time.Millisecond  // highlight duration
	clickFlash     = 300 * time.Millisecond  // feedback on player click
	advanceDelay   = 1000 * time.Millisecond // round success → next level
	gameOverReplay = 1500 * time.Millisecond // game over → replay
	pointsPerLevel = 10
	noHighlight    = -1
)

var (
	ErrGameInProgress = errors.New("game in progress")
	ErrCellOutOfRange = errors.New("cell out of range")
	ErrClosed         = errors.New("game closed")
)

// Option configures a Controller.
type Option func(*Controller)

// WithScheduler replaces the wall-clock scheduler.
func WithScheduler(s Scheduler) Option {
	return func(c *Controller) { c.sched = s }
}

// WithRand replaces the step generator. intn must return a value in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(c *Controller) { c.intn = intn }
}

// WithGameOver registers a hook called once per lost game, with the lock held.
func WithGameOver(fn func(Result)) Option {
	return func(c *Controller) { c.onGameOver = fn }
}

// WithClock replaces time.Now for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller owns one game and its turn cycle. Safe for concurrent use.
type Controller struct {
	mu sync.Mutex

	level             int
	score             int
	sequence          []int
	userSequence      []int
	isPlaying         bool
	isShowingSequence bool
	gridSize          int
	phase             Phase
	startedAt         time.Time

	epoch   uint64
	pending map[uint64]Timer
	nextID  uint64
	flash   uint64
	closed  bool

	drawn   Grid
	msg     string
	msgKind MessageKind

	sink       Sink
	sched      Scheduler
	intn       func(n int) int
	now        func() time.Time
	onGameOver func(Result)
}

// New constructs a controller in the idle state and draws it on sink.
func New(sink Sink, opts ...Option) *Controller {
	c := &Controller{
		sink:    sink,
		sched:   RealScheduler,
		intn:    rand.IntN,
		now:     time.Now,
		pending: make(map[uint64]Timer),
	}
	for _, o := range opts {
		o(c)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initState()
	return c
}

// Start begins a new game from level 1.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.isPlaying {
		return ErrGameInProgress
	}
	c.invalidate()

	c.level = 1
	c.score = 0
	c.sequence = nil
	c.userSequence = nil
	c.isPlaying = true
	c.isShowingSequence = false
	c.gridSize = minGridSize
	c.phase = PhasePending
	c.startedAt = c.now()

	c.sink.Display(c.level, c.score)
	c.render(Render(c.gridSize, noHighlight))
	c.message("Starting game...", MessageNeutral)
	c.sink.Controls(c.controls())

	c.appendStep()
	c.after(leadInDelay, c.playRound)
	return nil
}

// Reset reinitializes the game as freshly loaded, whatever it was doing.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.invalidate()
	c.initState()
	return nil
}

// Close abandons the game; pending timers are stopped and later calls fail.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidate()
	c.closed = true
}

// Click handles the player selecting cell index.
func (c *Controller) Click(index int) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return OutcomeIgnored, ErrClosed
	}
	if index < 0 || index >= c.gridSize*c.gridSize {
		return OutcomeIgnored, ErrCellOutOfRange
	}
	if !c.isPlaying || c.isShowingSequence || c.phase != PhaseAwaitingInput {
		return OutcomeIgnored, nil
	}

	c.flashCell(index)
	c.userSequence = append(c.userSequence, index)

	pos := len(c.userSequence) - 1
	if c.userSequence[pos] != c.sequence[pos] {
		c.gameOver()
		return OutcomeMismatch, nil
	}
	if len(c.userSequence) < len(c.sequence) {
		return OutcomeAccepted, nil
	}

	c.score += c.level * pointsPerLevel
	c.phase = PhaseRoundSuccess
	c.sink.Display(c.level, c.score)
	c.message("Correct! Moving to next level...", MessageSuccess)
	c.after(advanceDelay, c.nextLevel)
	return OutcomeRoundComplete, nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

func (c *Controller) snapshot() Snapshot {
	s := Snapshot{
		Level:             c.level,
		Score:             c.score,
		GridSize:          c.gridSize,
		Phase:             c.phase,
		IsPlaying:         c.isPlaying,
		IsShowingSequence: c.isShowingSequence,
		SequenceLength:    len(c.sequence),
		UserSequence:      append([]int{}, c.userSequence...),
	}
	if !c.isPlaying && len(c.sequence) > 0 {
		s.Sequence = append([]int{}, c.sequence...)
	}
	return s
}

// Observe calls fn with the current frame while holding the lock, so no
// Sink event can slip in between reading the frame and fn returning.
func (c *Controller) Observe(fn func(View)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(View{
		Snapshot: c.snapshot(),
		Grid:     c.drawn,
		Message:  c.msg,
		Kind:     c.msgKind,
		Controls: c.controls(),
	})
}

// ------------------------------ internals ----------------------------------

func (c *Controller) render(g Grid) {
	c.drawn = g
	c.sink.Render(g)
}

func (c *Controller) message(text string, kind MessageKind) {
	c.msg, c.msgKind = text, kind
	c.sink.Message(text, kind)
}

func (c *Controller) controls() Controls {
	return Controls{
		StartEnabled: !c.isPlaying && c.phase != PhasePlayback,
		ResetEnabled: c.phase != PhasePlayback,
	}
}

// initState resets every field to the load-time defaults and redraws.
func (c *Controller) initState() {
	c.level = 1
	c.score = 0
	c.sequence = nil
	c.userSequence = nil
	c.isPlaying = false
	c.isShowingSequence = false
	c.gridSize = minGridSize
	c.phase = PhaseIdle
	c.startedAt = time.Time{}

	c.sink.Display(c.level, c.score)
	c.render(Render(c.gridSize, noHighlight))
	c.message("Press Start to begin!", MessageNeutral)
	c.sink.Controls(c.controls())
}

// appendStep pushes one uniform random cell of the current grid.
func (c *Controller) appendStep() {
	c.sequence = append(c.sequence, c.intn(c.gridSize*c.gridSize))
}

// nextLevel advances after a cleared round and queues its playback.
func (c *Controller) nextLevel() {
	c.level++
	c.userSequence = nil
	if c.level%2 == 0 && c.gridSize < maxGridSize {
		c.gridSize++
	}
	c.phase = PhasePending

	c.render(Render(c.gridSize, noHighlight))
	c.sink.Display(c.level, c.score)
	c.message("Level "+strconv.Itoa(c.level), MessageNeutral)

	c.appendStep()
	c.after(leadInDelay, c.playRound)
}

// playRound reveals the sequence, then hands the turn to the player.
func (c *Controller) playRound() {
	c.phase = PhasePlayback
	c.isShowingSequence = true
	c.message("Watch the sequence...", MessageNeutral)
	c.sink.Controls(c.controls())

	c.reveal(func() {
		c.isShowingSequence = false
		c.phase = PhaseAwaitingInput
		c.message("Your turn! Repeat the sequence.", MessageNeutral)
		c.sink.Controls(c.controls())
	})
}

// gameOver ends the game and queues the replay of the correct sequence.
func (c *Controller) gameOver() {
	c.isPlaying = false
	c.phase = PhaseFailed
	c.message("Game Over! Try again.", MessageError)
	c.sink.Controls(c.controls())

	if c.onGameOver != nil {
		c.onGameOver(Result{
			Level:          c.level,
			Score:          c.score,
			GridSize:       c.gridSize,
			SequenceLength: len(c.sequence),
			StartedAt:      c.startedAt,
			FinishedAt:     c.now(),
		})
	}

	c.after(gameOverReplay, func() {
		c.phase = PhaseReplay
		c.message("The correct sequence was:", MessageError)
		c.reveal(func() {
			c.phase = PhaseFinished
			c.sink.Controls(c.controls())
		})
	})
}

// reveal pulses every sequence entry in order (gap, highlight, hold, clear)
// and calls done after the last one.
func (c *Controller) reveal(done func()) {
	c.render(Render(c.gridSize, noHighlight))
	var step func(i int)
	step = func(i int) {
		if i >= len(c.sequence) {
			done()
			return
		}
		c.after(stepGap, func() {
			c.render(Render(c.gridSize, c.sequence[i]))
			c.after(stepHold, func() {
				c.render(Render(c.gridSize, noHighlight))
				step(i + 1)
			})
		})
	}
	step(0)
}

// flashCell highlights index briefly; only the newest flash clears itself.
func (c *Controller) flashCell(index int) {
	c.flash++
	token := c.flash
	c.render(Render(c.gridSize, index))
	c.after(clickFlash, func() {
		if c.flash != token || c.phase == PhasePlayback || c.phase == PhaseReplay {
			return
		}
		c.render(Render(c.gridSize, noHighlight))
	})
}

// after runs f with the lock held once d has elapsed, unless the epoch
// has moved on in the meantime. Must be called with the lock held.
func (c *Controller) after(d time.Duration, f func()) {
	epoch := c.epoch
	c.nextID++
	id := c.nextID
	c.pending[id] = c.sched.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.pending, id)
		if c.epoch != epoch || c.closed {
			return
		}
		f()
	})
}

// invalidate starts a new epoch and stops every pending timer.
func (c *Controller) invalidate() {
	c.epoch++
	for id, t := range c.pending {
		t.Stop()
		delete(c.pending, id)
	}
}
