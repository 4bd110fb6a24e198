package registry

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
)

func testFactory() SessionFactory {
	return func(id string, mode session.GameMode, spec clock.Spec) *session.Session {
		return session.New(session.Config{
			ID:           id,
			Engine:       chess.NewNotnilEngine(),
			Mode:         mode,
			Spec:         spec,
			Bus:          eventbus.New(),
			TickInterval: time.Hour,
		})
	}
}

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	if cfg.NewSession == nil {
		cfg.NewSession = testFactory()
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 20 * time.Millisecond
	}
	r := New(cfg)
	t.Cleanup(r.Stop)
	return r
}

var blitzSpec = clock.Spec{InitialMs: 300_000, IncrementMs: 0, Discipline: clock.FischerOnly}

func TestCreateSeatsCreatorInLobby(t *testing.T) {
	r := newTestRegistry(t, Config{})
	ctx := context.Background()

	s, err := r.Create(ctx, "alice", "Alice", session.Blitz, blitzSpec, nil)
	require.NoError(t, err)
	white, black, fsm := s.Seats()
	assert.Equal(t, "alice", white)
	assert.Equal(t, "", black)
	assert.Equal(t, session.Lobby, fsm)
	assert.Equal(t, 1, r.Count())
}

func TestCreateRejectsWhenPersistenceDivergent(t *testing.T) {
	r := newTestRegistry(t, Config{
		BacklogSize:      func() int64 { return 51 },
		BacklogThreshold: 50,
	})
	ctx := context.Background()

	_, err := r.Create(ctx, "alice", "Alice", session.Blitz, blitzSpec, nil)
	assert.ErrorIs(t, err, ErrPersistenceDivergent)
	assert.Equal(t, 0, r.Count())
}

func TestCreateRejectsInvalidTimeControl(t *testing.T) {
	r := newTestRegistry(t, Config{})
	ctx := context.Background()
	_, err := r.Create(ctx, "alice", "Alice", session.Blitz, clock.Spec{InitialMs: 10}, nil)
	assert.ErrorIs(t, err, session.ErrInvalidTimeControl)
	assert.Equal(t, 0, r.Count())
}

func TestJoinTransitionsSessionToLive(t *testing.T) {
	r := newTestRegistry(t, Config{})
	ctx := context.Background()
	s, err := r.Create(ctx, "alice", "Alice", session.Blitz, blitzSpec, nil)
	require.NoError(t, err)

	joined, err := r.Join(ctx, s.ID(), "bob", "Bob")
	require.NoError(t, err)
	assert.Same(t, s, joined)
	white, black, fsm := s.Seats()
	assert.Equal(t, "alice", white)
	assert.Equal(t, "bob", black)
	assert.Equal(t, session.Live, fsm)
}

func TestJoinUnknownGameFails(t *testing.T) {
	r := newTestRegistry(t, Config{})
	_, err := r.Join(context.Background(), "no-such-id", "bob", "Bob")
	assert.ErrorIs(t, err, ErrNoSuchGame)
}

func TestPerUserActiveGameCapEnforced(t *testing.T) {
	r := newTestRegistry(t, Config{MaxActiveGames: 1})
	ctx := context.Background()
	_, err := r.Create(ctx, "alice", "Alice", session.Blitz, blitzSpec, nil)
	require.NoError(t, err)

	_, err = r.Create(ctx, "alice", "Alice", session.Blitz, blitzSpec, nil)
	assert.ErrorIs(t, err, ErrTooManyActiveGames)
	assert.Equal(t, 1, r.Count())
}

func TestListLobbyExcludesLiveSessions(t *testing.T) {
	r := newTestRegistry(t, Config{})
	ctx := context.Background()
	waiting, err := r.Create(ctx, "alice", "Alice", session.Blitz, blitzSpec, nil)
	require.NoError(t, err)
	full, err := r.Create(ctx, "carol", "Carol", session.Blitz, blitzSpec, nil)
	require.NoError(t, err)
	_, err = r.Join(ctx, full.ID(), "dave", "Dave")
	require.NoError(t, err)

	lobby := r.ListLobby()
	require.Len(t, lobby, 1)
	assert.Equal(t, waiting.ID(), lobby[0].ID())
}

func TestSweepRetiresCompletedSessionsPastGrace(t *testing.T) {
	r := newTestRegistry(t, Config{RetireAfter: 10 * time.Millisecond, SweepInterval: 10 * time.Millisecond})
	ctx := context.Background()
	s, err := r.Create(ctx, "alice", "Alice", session.Blitz, blitzSpec, nil)
	require.NoError(t, err)
	_, err = r.Join(ctx, s.ID(), "bob", "Bob")
	require.NoError(t, err)
	_, err = s.Resign(ctx, "bob")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return r.Count() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestGetReturnsTrackedSession(t *testing.T) {
	r := newTestRegistry(t, Config{})
	s, err := r.Create(context.Background(), "alice", "Alice", session.Blitz, blitzSpec, nil)
	require.NoError(t, err)

	got, ok := r.Get(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}
