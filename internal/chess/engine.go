package chess

// Engine is the rules interface the rest of the system depends on: any
// engine (library or in-house) can back it, and tests inject a trivial
// stub to force illegal-move outcomes deterministically.
type Engine interface {
	// ApplyMove validates req against pos and returns the resulting
	// position, or ErrIllegalMove.
	ApplyMove(pos Position, req MoveRequest) (MoveResult, error)

	// SideToMove reports whose turn it is in pos.
	SideToMove(pos Position) Color

	// TerminalChecks evaluates pos in terminal-precedence order.
	TerminalChecks(pos Position) TerminalStatus

	// FEN renders pos as a standard Forsyth string.
	FEN(pos Position) string

	// HasMatingMaterial reports whether side retains enough material to
	// ever deliver checkmate on its own, independent of the opponent's
	// material. Used on timeout to decide between a win for the opponent
	// and a draw by insufficient-material-vs-timeout.
	HasMatingMaterial(pos Position, side Color) bool
}
