// Package clock implements the authoritative per-game dual-sided countdown
// clock: Fischer increment, Bronstein delay, and simple (US) delay
// disciplines, driven by a single injected monotonic time source so tests
// can assert exact millisecond arithmetic instead of sleeping.
package clock

import (
	"sync"
	"time"
)

// Side identifies which player's clock is running.
type Side int

const (
	White Side = iota
	Black
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == White {
		return Black
	}
	return White
}

func (s Side) String() string {
	if s == White {
		return "white"
	}
	return "black"
}

// Discipline selects how the delay/increment is applied on commitMove.
type Discipline int

const (
	// None / FischerOnly: no delay, increment only.
	FischerOnly Discipline = iota
	// Bronstein: refund up to delay ms of the time actually used.
	Bronstein
	// Simple: wait delay ms before deducting (US delay).
	Simple
)

func (d Discipline) String() string {
	switch d {
	case Bronstein:
		return "bronstein"
	case Simple:
		return "simple"
	default:
		return "fischer-only"
	}
}

// Spec is the time-control value type.
type Spec struct {
	InitialMs   int64
	IncrementMs int64
	DelayMs     int64
	Discipline  Discipline
}

// Snapshot is the result of a non-mutating peek.
type Snapshot struct {
	WhiteMs    int64
	BlackMs    int64
	ActiveSide Side
}

// CommitResult is returned by CommitMove.
type CommitResult struct {
	DeductedMs    int64
	NewActiveSide Side
	MoverTimedOut bool
}

// Clock is one game's authoritative dual clock. Now is injected so the
// clock never reads the wall clock directly; callers pass a monotonic
// func() time.Time (typically time.Now, or a fake in tests).
type Clock struct {
	mu sync.Mutex

	spec Spec

	whiteRemainingMs int64
	blackRemainingMs int64

	activeSide     Side
	running        bool
	activeSince    time.Time
	hasActiveSince bool
}

// New creates a clock at its initial time control, not yet started.
func New(spec Spec) *Clock {
	return &Clock{
		spec:             spec,
		whiteRemainingMs: spec.InitialMs,
		blackRemainingMs: spec.InitialMs,
		activeSide:       White,
	}
}

// Start transitions the clock into the running state with white to move.
func (c *Clock) Start(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeSide = White
	c.running = true
	c.activeSince = now
	c.hasActiveSince = true
}

// Stop clears the running-interval marker without altering remaining time;
// used on terminal transitions, after which neither side's time runs.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.hasActiveSince = false
}

// Peek returns remaining time for both sides as of now, without mutating
// state. Only the active side's remaining time decreases with elapsed
// wall time.
func (c *Clock) Peek(now time.Time) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peekLocked(now)
}

func (c *Clock) peekLocked(now time.Time) Snapshot {
	white, black := c.whiteRemainingMs, c.blackRemainingMs
	if c.running && c.hasActiveSince {
		elapsed := elapsedMs(c.activeSince, now)
		if c.activeSide == White {
			white -= elapsed
		} else {
			black -= elapsed
		}
	}
	return Snapshot{WhiteMs: clampNonNegative(white), BlackMs: clampNonNegative(black), ActiveSide: c.activeSide}
}

// CommitMove is called when the active side makes a legal move at time
// now. It applies the configured delay discipline, adds the increment,
// switches the active side, and reports whether the mover's remaining
// time (before the increment) had already reached zero.
func (c *Clock) CommitMove(now time.Time) CommitResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	mover := c.activeSide
	elapsed := elapsedMs(c.activeSince, now)
	if elapsed < 0 {
		elapsed = 0
	}

	deducted := c.deduction(elapsed)

	remaining := c.remainingFor(mover) - deducted
	timedOut := remaining <= 0
	if remaining < 0 {
		remaining = 0
	}
	remaining += c.spec.IncrementMs
	c.setRemaining(mover, remaining)

	c.activeSide = mover.Opposite()
	c.activeSince = now
	c.hasActiveSince = true

	return CommitResult{DeductedMs: deducted, NewActiveSide: c.activeSide, MoverTimedOut: timedOut}
}

// deduction applies the configured discipline to the elapsed time used for
// one move.
func (c *Clock) deduction(elapsedMs int64) int64 {
	switch c.spec.Discipline {
	case Simple:
		d := elapsedMs - c.spec.DelayMs
		if d < 0 {
			d = 0
		}
		return d
	case Bronstein:
		refund := c.spec.DelayMs
		if elapsedMs < refund {
			refund = elapsedMs
		}
		d := elapsedMs - refund
		if d < 0 {
			d = 0
		}
		return d
	default: // FischerOnly / none
		return elapsedMs
	}
}

func (c *Clock) remainingFor(s Side) int64 {
	if s == White {
		return c.whiteRemainingMs
	}
	return c.blackRemainingMs
}

func (c *Clock) setRemaining(s Side, v int64) {
	if s == White {
		c.whiteRemainingMs = v
	} else {
		c.blackRemainingMs = v
	}
}

func elapsedMs(since, now time.Time) int64 {
	d := now.Sub(since)
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
