package chess

import (
	"strings"

	lib "github.com/notnil/chess"
)

// NotnilEngine backs Engine with github.com/notnil/chess. A fresh
// *lib.Game is rebuilt per call (optionally from a starting FEN) and every
// recorded move is replayed, so the adapter itself holds no state and never
// mutates its Position argument.
type NotnilEngine struct{}

// NewNotnilEngine constructs the default rules engine.
func NewNotnilEngine() *NotnilEngine { return &NotnilEngine{} }

func (e *NotnilEngine) replay(pos Position) (*lib.Game, error) {
	var g *lib.Game
	if pos.startFEN != "" {
		fen, err := lib.FEN(pos.startFEN)
		if err != nil {
			return nil, err
		}
		g = lib.NewGame(fen, lib.UseNotation(lib.UCINotation{}))
	} else {
		g = lib.NewGame(lib.UseNotation(lib.UCINotation{}))
	}
	for _, uci := range pos.moves {
		if err := g.MoveStr(uci); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func uciString(req MoveRequest) string {
	var b strings.Builder
	b.WriteString(req.From)
	b.WriteString(req.To)
	b.WriteString(strings.ToLower(req.Promotion))
	return b.String()
}

func (e *NotnilEngine) ApplyMove(pos Position, req MoveRequest) (MoveResult, error) {
	g, err := e.replay(pos)
	if err != nil {
		return MoveResult{}, ErrIllegalMove
	}

	uci := uciString(req)
	move, err := (lib.UCINotation{}).Decode(g.Position(), uci)
	if err != nil {
		return MoveResult{}, ErrIllegalMove
	}

	captured := move.HasTag(lib.Capture)
	var capturedPiece string
	if captured {
		if p := g.Position().Board().Piece(move.S2()); p != lib.NoPiece {
			capturedPiece = p.String()
		}
	}

	preMove := g.Position()
	if err := g.Move(move); err != nil {
		return MoveResult{}, ErrIllegalMove
	}

	applyAutomaticDraws(g)

	moves := g.Moves()
	san := ""
	if len(moves) > 0 {
		san = lib.AlgebraicNotation{}.Encode(preMove, moves[len(moves)-1])
	}

	flags := Flags{
		Capture:   move.HasTag(lib.Capture),
		Castle:    move.HasTag(lib.KingSideCastle) || move.HasTag(lib.QueenSideCastle),
		EnPassant: move.HasTag(lib.EnPassant),
		Promotion: move.Promo() != lib.NoPieceType,
		Check:     move.HasTag(lib.Check),
		Checkmate: g.Method() == lib.Checkmate,
	}

	return MoveResult{
		Position:      pos.withMove(uci),
		SAN:           san,
		Flags:         flags,
		CapturedPiece: capturedPiece,
	}, nil
}

// applyAutomaticDraws forces the optional draw claims (fifty-move,
// threefold repetition) that notnil/chess otherwise leaves to a player to
// claim, so TerminalChecks detects them without an explicit claim.
func applyAutomaticDraws(g *lib.Game) {
	if g.Outcome() != lib.NoOutcome {
		return
	}
	eligible := g.EligibleDraws()
	hasMethod := func(target lib.Method) bool {
		for _, m := range eligible {
			if m == target {
				return true
			}
		}
		return false
	}
	// Precedence: fifty-move before threefold repetition.
	if hasMethod(lib.FiftyMoveRule) {
		_ = g.Draw(lib.FiftyMoveRule)
		return
	}
	if hasMethod(lib.ThreefoldRepetition) {
		_ = g.Draw(lib.ThreefoldRepetition)
	}
}

func (e *NotnilEngine) SideToMove(pos Position) Color {
	g, err := e.replay(pos)
	if err != nil {
		return White
	}
	if g.Position().Turn() == lib.White {
		return White
	}
	return Black
}

func (e *NotnilEngine) TerminalChecks(pos Position) TerminalStatus {
	g, err := e.replay(pos)
	if err != nil {
		return TerminalStatus{}
	}
	applyAutomaticDraws(g)

	switch g.Method() {
	case lib.Checkmate:
		winner := Black
		if g.Outcome() == lib.WhiteWon {
			winner = White
		}
		return TerminalStatus{Reason: Checkmate, Winner: winner}
	case lib.Stalemate:
		return TerminalStatus{Reason: Stalemate}
	case lib.InsufficientMaterial:
		return TerminalStatus{Reason: InsufficientMaterial}
	case lib.FiftyMoveRule:
		return TerminalStatus{Reason: FiftyMoveRule}
	case lib.ThreefoldRepetition:
		return TerminalStatus{Reason: ThreefoldRepetition}
	default:
		return TerminalStatus{Reason: NotTerminal}
	}
}

func (e *NotnilEngine) FEN(pos Position) string {
	g, err := e.replay(pos)
	if err != nil {
		return ""
	}
	return g.Position().String()
}

// HasMatingMaterial reports whether side has enough material left to ever
// force checkmate on its own: a lone king, or a king plus a single minor
// piece, can never deliver mate regardless of the clock. This is
// intentionally simpler than full FIDE dead-position rules: it asks only
// "could this side theoretically mate," not "is the whole position dead."
func (e *NotnilEngine) HasMatingMaterial(pos Position, side Color) bool {
	g, err := e.replay(pos)
	if err != nil {
		return true
	}
	want := lib.White
	if side == Black {
		want = lib.Black
	}
	board := g.Position().Board()
	minors := 0
	for i := 0; i < 64; i++ {
		p := board.Piece(lib.Square(i))
		if p == lib.NoPiece || p.Color() != want {
			continue
		}
		switch p.Type() {
		case lib.Queen, lib.Rook, lib.Pawn:
			return true
		case lib.Bishop, lib.Knight:
			minors++
		}
	}
	return minors >= 2
}
