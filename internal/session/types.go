// Package session implements the per-game finite-state machine: the single
// actor that owns one game's authoritative state (position, clock,
// draw-offer, result) and serializes every mutation through a command
// channel, publishing every transition to its event bus.
package session

import (
	"errors"
	"time"

	"github.com/vimsent/chessrt/internal/chess"
	"github.com/vimsent/chessrt/internal/clock"
)

// FSMState is the Session's lifecycle phase.
type FSMState int

const (
	Lobby FSMState = iota
	Live
	Completed
)

func (s FSMState) String() string {
	switch s {
	case Lobby:
		return "lobby"
	case Live:
		return "live"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Result is the final outcome of a completed game.
type Result int

const (
	NoResult Result = iota
	WhiteWins
	BlackWins
	Draw
)

func (r Result) String() string {
	switch r {
	case WhiteWins:
		return "white_wins"
	case BlackWins:
		return "black_wins"
	case Draw:
		return "draw"
	default:
		return ""
	}
}

// EndReason enumerates every terminal reason a Session can report.
type EndReason string

const (
	NoEndReason                      EndReason = ""
	EndCheckmate                     EndReason = "checkmate"
	EndStalemate                     EndReason = "stalemate"
	EndThreefoldRepetition           EndReason = "threefold-repetition"
	EndInsufficientMaterial          EndReason = "insufficient-material"
	EndFiftyMove                     EndReason = "fifty-move"
	EndTimeout                       EndReason = "timeout"
	EndResignation                   EndReason = "resignation"
	EndDrawAgreement                 EndReason = "draw-agreement"
	EndAbandonment                   EndReason = "abandonment"
	EndInsufficientMaterialVsTimeout EndReason = "insufficient-material-vs-timeout"
)

// GameMode buckets a time control by its initial per-side duration:
// bullet 60-180s, blitz 180-600s, rapid 600-1800s, classical 1800-7200s.
type GameMode string

const (
	Bullet    GameMode = "bullet"
	Blitz     GameMode = "blitz"
	Rapid     GameMode = "rapid"
	Classical GameMode = "classical"
)

// modeBoundsMs maps a mode to its [min, max] initial-duration bound in
// milliseconds.
var modeBoundsMs = map[GameMode][2]int64{
	Bullet:    {60_000, 180_000},
	Blitz:     {180_000, 600_000},
	Rapid:     {600_000, 1_800_000},
	Classical: {1_800_000, 7_200_000},
}

// ErrInvalidTimeControl is returned by ValidateTimeControl.
var ErrInvalidTimeControl = errors.New("invalid time control")

// ValidateTimeControl checks that the initial duration is strictly positive
// and within the named mode's bounds, and that increment and delay are
// non-negative.
func ValidateTimeControl(mode GameMode, spec clock.Spec) error {
	if spec.InitialMs <= 0 || spec.IncrementMs < 0 || spec.DelayMs < 0 {
		return ErrInvalidTimeControl
	}
	bounds, ok := modeBoundsMs[mode]
	if !ok {
		return ErrInvalidTimeControl
	}
	if spec.InitialMs < bounds[0] || spec.InitialMs > bounds[1] {
		return ErrInvalidTimeControl
	}
	return nil
}

// Seat is one color's occupant.
type Seat struct {
	UserID            string
	Username          string
	Connections       int
	DisconnectedAt    time.Time
	HasDisconnectedAt bool
}

func (s Seat) Empty() bool { return s.UserID == "" }

// DrawOffer records a pending draw offer. It survives until the opponent
// responds or any move changes the position.
type DrawOffer struct {
	By chess.Color
	At time.Time
}

// MoveRecord is one entry in a game's append-only move history. Ordinals
// are dense and strictly increasing per game.
type MoveRecord struct {
	GameID             string
	Ordinal            int
	Mover              chess.Color
	From               string
	To                 string
	SAN                string
	CapturedPiece      string
	IsCheck            bool
	IsCheckmate        bool
	IsCastle           bool
	IsEnPassant        bool
	Promotion          string
	ElapsedMsForMove   int64
	WallClockTimestamp time.Time
}

// ClockSnapshot is the wire-friendly view of clock state.
type ClockSnapshot struct {
	WhiteRemainingMs int64
	BlackRemainingMs int64
	ActiveSide       chess.Color
}

// GameState is the full external snapshot of a Session. It is a value
// copy: mutating it never affects the Session.
type GameState struct {
	ID             string
	White          Seat
	Black          Seat
	Mode           GameMode
	Spec           clock.Spec
	FEN            string
	MoveHistory    []MoveRecord
	Clock          ClockSnapshot
	DrawOffer      *DrawOffer
	FSMState       FSMState
	Result         Result
	EndReason      EndReason
	WinnerID       string
	StartedAt      time.Time
	HasStartedAt   bool
	CompletedAt    time.Time
	HasCompletedAt bool
	Seq            uint64
}

// ChatMessage is the payload of a "chat" bus event. It is relayed to
// subscribers only: never validated against game rules, never persisted,
// and it never affects FSM state, position, or clock.
type ChatMessage struct {
	GameID     string
	FromUserID string
	Body       string
	At         time.Time
}

// MoveEvent is the payload of a "move" bus event: the move just applied
// plus the resulting full snapshot.
type MoveEvent struct {
	State GameState
	Move  MoveRecord
}

// Projector receives persistence notifications for the seated, move, and
// completed emissions. Implementations must not block the Session;
// internal/projector's implementation enqueues and retries in the
// background.
type Projector interface {
	ProjectSeated(state GameState)
	ProjectMove(state GameState, move MoveRecord)
	ProjectCompleted(state GameState)
}

func resultFor(winner chess.Color) Result {
	if winner == chess.White {
		return WhiteWins
	}
	return BlackWins
}

func colorFromSide(s clock.Side) chess.Color {
	if s == clock.White {
		return chess.White
	}
	return chess.Black
}
