// Package chess defines the rules adapter: a pure, stateless interface
// over move legality, SAN rendering, and terminal-condition detection. It
// never mutates its inputs, knows nothing about time or players, and never
// logs; illegal input surfaces only as the ErrIllegalMove discriminant.
package chess

import "errors"

// Color identifies a side.
type Color int

const (
	White Color = iota
	Black
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) String() string {
	if c == White {
		return "white"
	}
	return "black"
}

// ErrIllegalMove is the sole error a Move request can surface.
var ErrIllegalMove = errors.New("illegal move")

// Position is the canonical chess position. It is immutable;
// every operation that "changes" a position returns a new one. The move
// list (UCI-encoded, from the starting position) is carried alongside the
// FEN of the *starting* position so that history-dependent terminal checks
// (threefold repetition, fifty-move rule) can be evaluated without the
// adapter owning any session-level state.
type Position struct {
	startFEN string
	moves    []string // UCI, applied in order from startFEN
}

// StartingPosition is the canonical chess starting position.
func StartingPosition() Position {
	return Position{}
}

// PositionFromFEN seeds a position from an arbitrary FEN with no move
// history (used by tests that want a specific board without replaying
// moves to reach it).
func PositionFromFEN(fen string) Position {
	return Position{startFEN: fen}
}

// Moves returns the UCI-encoded move list applied since the start FEN.
func (p Position) Moves() []string {
	out := make([]string, len(p.moves))
	copy(out, p.moves)
	return out
}

func (p Position) withMove(uci string) Position {
	moves := make([]string, len(p.moves)+1)
	copy(moves, p.moves)
	moves[len(moves)-1] = uci
	return Position{startFEN: p.startFEN, moves: moves}
}

// MoveRequest is a candidate move in coordinate form, as the Gateway
// receives it from a client.
type MoveRequest struct {
	From      string // e.g. "e2"
	To        string // e.g. "e4"
	Promotion string // "", "q", "r", "b", "n"
}

// Flags describes what a legal move did to the position.
type Flags struct {
	Capture   bool
	Castle    bool
	EnPassant bool
	Promotion bool
	Check     bool
	Checkmate bool
}

// MoveResult is the outcome of a legal ApplyMove.
type MoveResult struct {
	Position      Position
	SAN           string
	Flags         Flags
	CapturedPiece string // "" if no capture
}

// TerminalReason enumerates the terminal conditions the adapter detects on
// a position; session-level endings (timeout, resignation, draw-agreement,
// abandonment) are not the adapter's concern.
type TerminalReason int

const (
	NotTerminal TerminalReason = iota
	Checkmate
	Stalemate
	InsufficientMaterial
	FiftyMoveRule
	ThreefoldRepetition
)

// TerminalStatus is the result of evaluating terminal conditions on a
// position, in precedence order: checkmate, stalemate, insufficient
// material, fifty-move, threefold repetition.
type TerminalStatus struct {
	Reason TerminalReason
	Winner Color // meaningful only when Reason == Checkmate
}

func (s TerminalStatus) IsTerminal() bool { return s.Reason != NotTerminal }
