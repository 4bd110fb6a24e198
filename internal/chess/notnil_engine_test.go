package chess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustMove(t *testing.T, e Engine, pos Position, from, to, promo string) Position {
	t.Helper()
	res, err := e.ApplyMove(pos, MoveRequest{From: from, To: to, Promotion: promo})
	require.NoError(t, err)
	return res.Position
}

func TestScholarsMate(t *testing.T) {
	e := NewNotnilEngine()
	pos := StartingPosition()

	pos = mustMove(t, e, pos, "e2", "e4", "")
	pos = mustMove(t, e, pos, "e7", "e5", "")
	pos = mustMove(t, e, pos, "f1", "c4", "")
	pos = mustMove(t, e, pos, "b8", "c6", "")
	pos = mustMove(t, e, pos, "d1", "h5", "")
	pos = mustMove(t, e, pos, "g8", "f6", "")

	res, err := e.ApplyMove(pos, MoveRequest{From: "h5", To: "f7"})
	require.NoError(t, err)
	assert.True(t, res.Flags.Checkmate)
	assert.True(t, res.Flags.Capture)

	status := e.TerminalChecks(res.Position)
	assert.Equal(t, Checkmate, status.Reason)
	assert.Equal(t, White, status.Winner)
}

func TestIllegalMoveRejected(t *testing.T) {
	e := NewNotnilEngine()
	pos := StartingPosition()

	_, err := e.ApplyMove(pos, MoveRequest{From: "e2", To: "e5"})
	assert.ErrorIs(t, err, ErrIllegalMove)
}

func TestSideToMoveAlternates(t *testing.T) {
	e := NewNotnilEngine()
	pos := StartingPosition()
	assert.Equal(t, White, e.SideToMove(pos))

	pos = mustMove(t, e, pos, "e2", "e4", "")
	assert.Equal(t, Black, e.SideToMove(pos))
}

func TestInsufficientMaterial(t *testing.T) {
	e := NewNotnilEngine()
	// King vs king.
	pos := PositionFromFEN("8/8/8/4k3/8/8/8/4K3 w - - 0 1")
	status := e.TerminalChecks(pos)
	assert.Equal(t, InsufficientMaterial, status.Reason)
}

func TestStalemate(t *testing.T) {
	e := NewNotnilEngine()
	// Classic stalemate position: black king has no legal moves, not in check.
	pos := PositionFromFEN("7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	status := e.TerminalChecks(pos)
	assert.Equal(t, Stalemate, status.Reason)
}

func TestHasMatingMaterialLoneKing(t *testing.T) {
	e := NewNotnilEngine()
	// White: lone king. Black: king + queen.
	pos := PositionFromFEN("4k3/8/8/8/8/8/8/4K2q w - - 0 1")
	assert.False(t, e.HasMatingMaterial(pos, White))
	assert.True(t, e.HasMatingMaterial(pos, Black))
}

func TestHasMatingMaterialBishopPairSufficient(t *testing.T) {
	e := NewNotnilEngine()
	pos := PositionFromFEN("4k3/8/8/8/8/2B2B2/8/4K3 w - - 0 1")
	assert.True(t, e.HasMatingMaterial(pos, White))
}

func TestFENRoundTrips(t *testing.T) {
	e := NewNotnilEngine()
	pos := StartingPosition()
	fen := e.FEN(pos)
	assert.Contains(t, fen, "rnbqkbnr")
}
