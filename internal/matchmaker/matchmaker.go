// Package matchmaker implements game creation and joining: opening a Lobby
// session for a single creator, and filling its empty seat when a second
// player joins. Join is synchronous: it fills a specific session's seat
// immediately rather than matching strangers off a queue.
package matchmaker

import (
	"context"
	"math/rand"

	"github.com/vimsent/chessrt/internal/chess"
	"github.com/vimsent/chessrt/internal/clock"
	"github.com/vimsent/chessrt/internal/registry"
	"github.com/vimsent/chessrt/internal/session"
)

// Matchmaker wraps a Registry with the creator-color coin flip (fixed
// preference, or random with a fair coin).
type Matchmaker struct {
	reg *registry.Registry
}

// New wraps reg.
func New(reg *registry.Registry) *Matchmaker {
	return &Matchmaker{reg: reg}
}

// Create validates the time control, then opens a Lobby session with
// creatorID seated. colorPref nil means "no preference": the creator's seat
// is chosen by a fair coin flip here, rather than left to the Registry's
// default first-empty-seat behavior.
func (m *Matchmaker) Create(ctx context.Context, creatorID, creatorUsername string, mode session.GameMode, spec clock.Spec, colorPref *chess.Color) (*session.Session, error) {
	color := colorPref
	if color == nil {
		c := chess.White
		if rand.Intn(2) == 1 {
			c = chess.Black
		}
		color = &c
	}
	return m.reg.Create(ctx, creatorID, creatorUsername, mode, spec, color)
}

// Join fills gameID's empty seat with userID. Rejection of a
// full game, a non-Lobby game, or an already-seated user is handled inside
// Registry.Join/Session.SeatPlayer (an already-seated user in a Lobby game
// surfaces as session.ErrSeatTaken; a full game is already Live, so it and
// a Completed game surface as session.ErrWrongFSMState).
func (m *Matchmaker) Join(ctx context.Context, gameID, userID, username string) (*session.Session, error) {
	return m.reg.Join(ctx, gameID, userID, username)
}
