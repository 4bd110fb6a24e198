package matchmaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vimsent/chessrt/internal/chess"
	"github.com/vimsent/chessrt/internal/clock"
	"github.com/vimsent/chessrt/internal/eventbus"
	"github.com/vimsent/chessrt/internal/session"

	"github.com/vimsent/chessrt/internal/registry"
)

var blitzSpec = clock.Spec{InitialMs: 300_000, Discipline: clock.FischerOnly}

func newTestMatchmaker(t *testing.T) *Matchmaker {
	t.Helper()
	reg := registry.New(registry.Config{
		SweepInterval: time.Hour,
		NewSession: func(id string, mode session.GameMode, spec clock.Spec) *session.Session {
			return session.New(session.Config{
				ID:           id,
				Engine:       chess.NewNotnilEngine(),
				Mode:         mode,
				Spec:         spec,
				Bus:          eventbus.New(),
				TickInterval: time.Hour,
			})
		},
	})
	t.Cleanup(reg.Stop)
	return New(reg)
}

func TestCreateWithFixedColorPreference(t *testing.T) {
	mm := newTestMatchmaker(t)
	white := chess.White
	s, err := mm.Create(context.Background(), "alice", "Alice", session.Blitz, blitzSpec, &white)
	require.NoError(t, err)
	w, b, fsm := s.Seats()
	assert.Equal(t, "alice", w)
	assert.Equal(t, "", b)
	assert.Equal(t, session.Lobby, fsm)
}

func TestCreateWithNoPreferenceSeatsCreatorOnOneSide(t *testing.T) {
	mm := newTestMatchmaker(t)
	s, err := mm.Create(context.Background(), "alice", "Alice", session.Blitz, blitzSpec, nil)
	require.NoError(t, err)
	w, b, _ := s.Seats()
	assert.True(t, w == "alice" || b == "alice")
	assert.False(t, w == "alice" && b == "alice")
}

func TestJoinFillsOpenSeatAndGoesLive(t *testing.T) {
	mm := newTestMatchmaker(t)
	white := chess.White
	s, err := mm.Create(context.Background(), "alice", "Alice", session.Blitz, blitzSpec, &white)
	require.NoError(t, err)

	joined, err := mm.Join(context.Background(), s.ID(), "bob", "Bob")
	require.NoError(t, err)
	w, b, fsm := joined.Seats()
	assert.Equal(t, "alice", w)
	assert.Equal(t, "bob", b)
	assert.Equal(t, session.Live, fsm)
}

func TestJoinRejectsAlreadyLiveGame(t *testing.T) {
	mm := newTestMatchmaker(t)
	white := chess.White
	s, err := mm.Create(context.Background(), "alice", "Alice", session.Blitz, blitzSpec, &white)
	require.NoError(t, err)
	_, err = mm.Join(context.Background(), s.ID(), "bob", "Bob")
	require.NoError(t, err)

	_, err = mm.Join(context.Background(), s.ID(), "carol", "Carol")
	assert.ErrorIs(t, err, session.ErrWrongFSMState)
}
