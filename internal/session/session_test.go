package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vimsent/chessrt/internal/chess"
	"github.com/vimsent/chessrt/internal/clock"
)

type fakeNow struct{ t time.Time }

func (f *fakeNow) now() time.Time          { return f.t }
func (f *fakeNow) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestSession(t *testing.T, cfg Config) (*Session, *fakeNow) {
	t.Helper()
	fn := &fakeNow{t: time.Unix(0, 0)}
	if cfg.Engine == nil {
		cfg.Engine = chess.NewNotnilEngine()
	}
	if cfg.Spec.InitialMs == 0 {
		cfg.Spec = clock.Spec{InitialMs: 180000, IncrementMs: 2000, Discipline: clock.FischerOnly}
	}
	cfg.ID = "g1"
	cfg.Now = fn.now
	cfg.TickInterval = time.Hour // keep ticks from interfering with deterministic tests
	s := New(cfg)
	t.Cleanup(s.Shutdown)
	return s, fn
}

func seatBoth(t *testing.T, s *Session) {
	t.Helper()
	ctx := context.Background()
	white := chess.White
	_, err := s.SeatPlayer(ctx, "alice", "Alice", &white)
	require.NoError(t, err)
	_, err = s.SeatPlayer(ctx, "bob", "Bob", nil)
	require.NoError(t, err)
}

func TestSeatPlayerTransitionsToLiveOnSecondSeat(t *testing.T) {
	s, _ := newTestSession(t, Config{})
	ctx := context.Background()
	white := chess.White
	state, err := s.SeatPlayer(ctx, "alice", "Alice", &white)
	require.NoError(t, err)
	assert.Equal(t, Lobby, state.FSMState)

	state, err = s.SeatPlayer(ctx, "bob", "Bob", nil)
	require.NoError(t, err)
	assert.Equal(t, Live, state.FSMState)
	assert.Equal(t, "alice", state.White.UserID)
	assert.Equal(t, "bob", state.Black.UserID)
}

func TestSeatPlayerRejectsTakenSeat(t *testing.T) {
	s, _ := newTestSession(t, Config{})
	ctx := context.Background()
	white := chess.White
	_, err := s.SeatPlayer(ctx, "alice", "Alice", &white)
	require.NoError(t, err)
	_, err = s.SeatPlayer(ctx, "carol", "Carol", &white)
	assert.ErrorIs(t, err, ErrSeatTaken)
}

func TestSeatPlayerRejectsAlreadySeatedUser(t *testing.T) {
	s, _ := newTestSession(t, Config{})
	ctx := context.Background()
	white := chess.White
	_, err := s.SeatPlayer(ctx, "alice", "Alice", &white)
	require.NoError(t, err)
	_, err = s.SeatPlayer(ctx, "alice", "Alice", nil)
	assert.ErrorIs(t, err, ErrSeatTaken)
}

func TestMoveRejectedOutOfTurn(t *testing.T) {
	s, _ := newTestSession(t, Config{})
	seatBoth(t, s)
	ctx := context.Background()
	_, err := s.Move(ctx, "bob", "e7", "e5", "")
	assert.ErrorIs(t, err, ErrNotYourTurn)
}

func TestMoveRejectedWrongFSMState(t *testing.T) {
	s, _ := newTestSession(t, Config{})
	ctx := context.Background()
	_, err := s.Move(ctx, "alice", "e2", "e4", "")
	assert.ErrorIs(t, err, ErrWrongFSMState)
}

func TestIllegalMoveLeavesStateUnchanged(t *testing.T) {
	s, _ := newTestSession(t, Config{})
	seatBoth(t, s)
	ctx := context.Background()
	_, err := s.Move(ctx, "alice", "e2", "e5", "")
	assert.ErrorIs(t, err, chess.ErrIllegalMove)

	state, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, state.MoveHistory, 0)
	assert.Equal(t, Live, state.FSMState)
}

func TestScholarsMateEndsGame(t *testing.T) {
	s, _ := newTestSession(t, Config{})
	seatBoth(t, s)
	ctx := context.Background()

	moves := [][2]string{{"e2", "e4"}, {"e7", "e5"}, {"f1", "c4"}, {"b8", "c6"}, {"d1", "h5"}, {"g8", "f6"}}
	players := []string{"alice", "bob"}
	for i, mv := range moves {
		_, err := s.Move(ctx, players[i%2], mv[0], mv[1], "")
		require.NoError(t, err)
	}
	state, err := s.Move(ctx, "alice", "h5", "f7", "")
	require.NoError(t, err)
	assert.Equal(t, Completed, state.FSMState)
	assert.Equal(t, WhiteWins, state.Result)
	assert.Equal(t, EndCheckmate, state.EndReason)
	assert.Equal(t, "alice", state.WinnerID)
	assert.Len(t, state.MoveHistory, 7)
}

func TestResignationAwardsOpponentWin(t *testing.T) {
	s, _ := newTestSession(t, Config{})
	seatBoth(t, s)
	ctx := context.Background()
	_, err := s.Move(ctx, "alice", "e2", "e4", "")
	require.NoError(t, err)

	state, err := s.Resign(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, Completed, state.FSMState)
	assert.Equal(t, WhiteWins, state.Result)
	assert.Equal(t, EndResignation, state.EndReason)
	assert.Equal(t, "alice", state.WinnerID)
	assert.Len(t, state.MoveHistory, 1)
}

func TestDrawAgreement(t *testing.T) {
	s, _ := newTestSession(t, Config{})
	seatBoth(t, s)
	ctx := context.Background()
	_, err := s.Move(ctx, "alice", "e2", "e4", "")
	require.NoError(t, err)

	_, err = s.OfferDraw(ctx, "alice")
	require.NoError(t, err)

	// Offering twice by the same side is idempotent: no error, same pending
	// offer.
	state, err := s.OfferDraw(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, state.DrawOffer)
	assert.Equal(t, chess.White, state.DrawOffer.By)

	// The offering side cannot accept its own offer.
	_, err = s.AcceptDraw(ctx, "alice")
	assert.ErrorIs(t, err, ErrNoDrawOffer)

	state, err = s.AcceptDraw(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, Completed, state.FSMState)
	assert.Equal(t, Draw, state.Result)
	assert.Equal(t, EndDrawAgreement, state.EndReason)
	assert.Equal(t, "", state.WinnerID)
}

func TestDeclineDrawClearsOffer(t *testing.T) {
	s, _ := newTestSession(t, Config{})
	seatBoth(t, s)
	ctx := context.Background()
	_, err := s.OfferDraw(ctx, "alice")
	require.NoError(t, err)

	state, err := s.DeclineDraw(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, state.DrawOffer)
}

func TestMoveClearsOutstandingDrawOffer(t *testing.T) {
	s, _ := newTestSession(t, Config{})
	seatBoth(t, s)
	ctx := context.Background()
	_, err := s.Move(ctx, "alice", "e2", "e4", "")
	require.NoError(t, err)
	_, err = s.OfferDraw(ctx, "bob")
	require.NoError(t, err)

	state, err := s.Move(ctx, "bob", "e7", "e5", "")
	require.NoError(t, err)
	assert.Nil(t, state.DrawOffer)
}

// The active side at the start of a Live game is always white (clock.Start
// sets activeSide=White). These tests let white's clock run out, so the
// opposing (potential-winner) side being checked for mating material is
// black.
func TestTimeoutWithInsufficientMaterialIsDraw(t *testing.T) {
	stub := &chess.StubEngine{
		MatingMaterial: map[chess.Color]bool{chess.Black: false},
	}
	s, fn := newTestSession(t, Config{
		Engine: stub,
		Spec:   clock.Spec{InitialMs: 1000, Discipline: clock.FischerOnly},
	})
	seatBoth(t, s)
	ctx := context.Background()

	fn.advance(5 * time.Second) // white (active side) has long since flagged
	state, err := s.TimeoutCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, Completed, state.FSMState)
	assert.Equal(t, Draw, state.Result)
	assert.Equal(t, EndInsufficientMaterialVsTimeout, state.EndReason)
	assert.Equal(t, "", state.WinnerID)
}

func TestTimeoutWithMatingMaterialAwardsWin(t *testing.T) {
	stub := &chess.StubEngine{
		MatingMaterial: map[chess.Color]bool{chess.Black: true},
	}
	s, fn := newTestSession(t, Config{
		Engine: stub,
		Spec:   clock.Spec{InitialMs: 1000, Discipline: clock.FischerOnly},
	})
	seatBoth(t, s)
	ctx := context.Background()

	fn.advance(5 * time.Second)
	state, err := s.TimeoutCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, Completed, state.FSMState)
	assert.Equal(t, BlackWins, state.Result)
	assert.Equal(t, EndTimeout, state.EndReason)
	assert.Equal(t, "bob", state.WinnerID)
}

func TestReconnectResumesWithoutResnapshot(t *testing.T) {
	s, _ := newTestSession(t, Config{})
	seatBoth(t, s)
	ctx := context.Background()

	// Drive some history so the bus has events to resume from.
	plies := [][2]string{{"e2", "e4"}, {"e7", "e5"}, {"g1", "f3"}, {"b8", "c6"}}
	players := []string{"alice", "bob"}
	for i, mv := range plies {
		_, err := s.Move(ctx, players[i%2], mv[0], mv[1], "")
		require.NoError(t, err)
	}

	_, seq, events, err := s.Subscribe(ctx, "spectator-1", "spectator", "")
	require.NoError(t, err)

	_, err = s.Move(ctx, "alice", "f1", "c4", "")
	require.NoError(t, err)

	// The subscriber drains exactly the one event published since it
	// subscribed.
	env := <-events
	assert.Equal(t, seq+1, env.Seq)

	require.NoError(t, s.Unsubscribe(ctx, "spectator-1", ""))

	tail, _, ok, err := s.Resume(ctx, "spectator-1", "", env.Seq)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, tail, 0) // caller had already drained exactly up to its lastSeq
}

func TestNotAPlayerCannotMove(t *testing.T) {
	s, _ := newTestSession(t, Config{})
	seatBoth(t, s)
	ctx := context.Background()
	_, err := s.Move(ctx, "mallory", "e2", "e4", "")
	assert.ErrorIs(t, err, ErrNotAPlayer)
}
