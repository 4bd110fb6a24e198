package session

import (
	"context"

	"github.com/vimsent/chessrt/internal/chess"
	"github.com/vimsent/chessrt/internal/eventbus"
)

// reply is the single return envelope every command produces. Only the
// fields relevant to a given command kind are populated; the rest are zero.
type reply struct {
	state    GameState
	err      error
	seq      uint64
	events   <-chan eventbus.Envelope
	tail     []eventbus.Envelope
	resumeOK bool
}

// envelope pairs a command body with its deadline context and reply
// channel. The actor loop rejects it outright (ErrCommandTimeout, no state
// change) if ctx is already done by the time it is dequeued.
type envelope struct {
	ctx   context.Context
	body  any
	reply chan reply
}

type cmdSeatPlayer struct {
	userID, username string
	color            *chess.Color
}

type cmdMove struct {
	userID, from, to, promotion string
}

type cmdResign struct{ userID string }

type cmdOfferDraw struct{ userID string }

type cmdAcceptDraw struct{ userID string }

type cmdDeclineDraw struct{ userID string }

type cmdTimeoutCheck struct{}

type cmdChat struct{ userID, body string }

type cmdSubscribe struct {
	subscriberID, role, userID string
}

type cmdResume struct {
	subscriberID, userID string
	lastSeq              uint64
}

type cmdUnsubscribe struct {
	subscriberID, userID string
}

type cmdSnapshot struct{}

// do enqueues body and blocks for its reply, honoring ctx's deadline on both
// the enqueue and the wait.
func (s *Session) do(ctx context.Context, body any) reply {
	env := envelope{ctx: ctx, body: body, reply: make(chan reply, 1)}
	select {
	case s.cmdCh <- env:
	case <-ctx.Done():
		return reply{err: ErrCommandTimeout}
	case <-s.stoppedCh:
		return reply{err: ErrSessionShutDown}
	}
	select {
	case r := <-env.reply:
		return r
	case <-ctx.Done():
		return reply{err: ErrCommandTimeout}
	case <-s.stoppedCh:
		return reply{err: ErrSessionShutDown}
	}
}

// SeatPlayer fills an empty seat. color is nil for "either"; the
// Matchmaker resolves fixed-vs-random seat choice before calling this.
func (s *Session) SeatPlayer(ctx context.Context, userID, username string, color *chess.Color) (GameState, error) {
	r := s.do(ctx, cmdSeatPlayer{userID: userID, username: username, color: color})
	return r.state, r.err
}

// Move validates and applies a move by the active side.
func (s *Session) Move(ctx context.Context, userID, from, to, promotion string) (GameState, error) {
	r := s.do(ctx, cmdMove{userID: userID, from: from, to: to, promotion: promotion})
	return r.state, r.err
}

func (s *Session) Resign(ctx context.Context, userID string) (GameState, error) {
	r := s.do(ctx, cmdResign{userID: userID})
	return r.state, r.err
}

func (s *Session) OfferDraw(ctx context.Context, userID string) (GameState, error) {
	r := s.do(ctx, cmdOfferDraw{userID: userID})
	return r.state, r.err
}

func (s *Session) AcceptDraw(ctx context.Context, userID string) (GameState, error) {
	r := s.do(ctx, cmdAcceptDraw{userID: userID})
	return r.state, r.err
}

func (s *Session) DeclineDraw(ctx context.Context, userID string) (GameState, error) {
	r := s.do(ctx, cmdDeclineDraw{userID: userID})
	return r.state, r.err
}

// TimeoutCheck forces the active-side-expired evaluation outside of a Move
// or the actor's own timer wake (used by tests and by external timeout
// sweeps).
func (s *Session) TimeoutCheck(ctx context.Context) (GameState, error) {
	r := s.do(ctx, cmdTimeoutCheck{})
	return r.state, r.err
}

// Subscribe registers subscriberID with the event bus and returns the
// current snapshot, its seq, and the event stream (snapshot-then-stream).
// userID, when it matches a seated player, marks
// that seat connected and clears any pending disconnect-grace timer.
func (s *Session) Subscribe(ctx context.Context, subscriberID, role, userID string) (GameState, uint64, <-chan eventbus.Envelope, error) {
	r := s.do(ctx, cmdSubscribe{subscriberID: subscriberID, role: role, userID: userID})
	return r.state, r.seq, r.events, r.err
}

// Resume resubscribes subscriberID after a reconnect. ok is
// false if lastSeq has fallen out of the bus's tail, in which case the
// caller must fall back to Subscribe's full-snapshot path.
func (s *Session) Resume(ctx context.Context, subscriberID, userID string, lastSeq uint64) ([]eventbus.Envelope, <-chan eventbus.Envelope, bool, error) {
	r := s.do(ctx, cmdResume{subscriberID: subscriberID, userID: userID, lastSeq: lastSeq})
	return r.tail, r.events, r.resumeOK, r.err
}

func (s *Session) Unsubscribe(ctx context.Context, subscriberID, userID string) error {
	r := s.do(ctx, cmdUnsubscribe{subscriberID: subscriberID, userID: userID})
	return r.err
}

// Chat relays body to every subscriber as a "chat" bus event without
// touching any authoritative field; chat is carried through, never
// inspected, and never blocks on game-rule state.
func (s *Session) Chat(ctx context.Context, userID, body string) error {
	r := s.do(ctx, cmdChat{userID: userID, body: body})
	return r.err
}

// Snapshot returns the current GameState without side effects.
func (s *Session) Snapshot(ctx context.Context) (GameState, error) {
	r := s.do(ctx, cmdSnapshot{})
	return r.state, r.err
}
