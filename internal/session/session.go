package session

import (
	"sync"
	"time"

	"github.com/vimsent/chessrt/internal/chess"
	"github.com/vimsent/chessrt/internal/clock"
	"github.com/vimsent/chessrt/internal/eventbus"
)

const (
	longIdle = time.Hour
	minWake  = time.Millisecond
)

// Config constructs a Session.
type Config struct {
	ID              string
	Engine          chess.Engine
	Mode            GameMode
	Spec            clock.Spec
	Bus             *eventbus.Bus  // optional; a fresh bus is created if nil
	StartPosition   chess.Position // optional; defaults to the standard starting position
	Now             func() time.Time
	DisconnectGrace time.Duration // default 30s
	TickInterval    time.Duration // default 1s; clock-tick cadence is capped at 1 Hz
	Projector       Projector
	CommandQueue    int // default 64
}

type statusMirror struct {
	fsm          FSMState
	lastActivity time.Time
	whiteID      string
	blackID      string
}

// Session is one game's actor: all mutable state below is
// touched only by the run() goroutine. Status() is the single exception,
// reading a mutex-guarded mirror kept current after every transition, so
// the Registry can sweep for retirement without routing through the
// command queue.
type Session struct {
	id     string
	engine chess.Engine
	bus    *eventbus.Bus
	mode   GameMode
	spec   clock.Spec
	clk    *clock.Clock

	pos            chess.Position
	white          Seat
	black          Seat
	drawOffer      *DrawOffer
	fsm            FSMState
	result         Result
	endReason      EndReason
	winnerID       string
	startedAt      time.Time
	hasStartedAt   bool
	completedAt    time.Time
	hasCompletedAt bool
	history        []MoveRecord

	moveStartedAt time.Time
	lastTickAt    time.Time

	nowFn           func() time.Time
	disconnectGrace time.Duration
	tickInterval    time.Duration
	projector       Projector

	cmdCh        chan envelope
	stoppedCh    chan struct{}
	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	mirrorMu sync.RWMutex
	mirror   statusMirror
}

// New constructs a Session in Lobby and starts its actor goroutine.
func New(cfg Config) *Session {
	if cfg.Bus == nil {
		cfg.Bus = eventbus.New()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = 30 * time.Second
	}
	if cfg.TickInterval < time.Second {
		cfg.TickInterval = time.Second
	}
	if cfg.CommandQueue <= 0 {
		cfg.CommandQueue = 64
	}
	s := &Session{
		id:              cfg.ID,
		engine:          cfg.Engine,
		bus:             cfg.Bus,
		mode:            cfg.Mode,
		spec:            cfg.Spec,
		clk:             clock.New(cfg.Spec),
		pos:             cfg.StartPosition,
		nowFn:           cfg.Now,
		disconnectGrace: cfg.DisconnectGrace,
		tickInterval:    cfg.TickInterval,
		projector:       cfg.Projector,
		cmdCh:           make(chan envelope, cfg.CommandQueue),
		stoppedCh:       make(chan struct{}),
		shutdownCh:      make(chan struct{}),
	}
	s.mirror = statusMirror{fsm: Lobby, lastActivity: cfg.Now()}
	go s.run()
	return s
}

func (s *Session) ID() string { return s.id }

// Status is a cheap, thread-safe read of the session's last-known FSM
// state and activity time, used by the Registry's retire-after-grace sweep
// so it never has to enqueue a command per session per sweep.
func (s *Session) Status() (FSMState, time.Time) {
	s.mirrorMu.RLock()
	defer s.mirrorMu.RUnlock()
	return s.mirror.fsm, s.mirror.lastActivity
}

// Seats is a cheap, thread-safe read of the current occupants and FSM
// state, used by the Registry to enforce the per-user active-game cap
// without round-tripping the command channel for every Create/Join call.
func (s *Session) Seats() (whiteID, blackID string, fsm FSMState) {
	s.mirrorMu.RLock()
	defer s.mirrorMu.RUnlock()
	return s.mirror.whiteID, s.mirror.blackID, s.mirror.fsm
}

// Shutdown stops the actor goroutine. Pending and future commands fail
// with ErrSessionShutDown.
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

func (s *Session) refreshStatusMirror(state GameState) {
	s.mirrorMu.Lock()
	s.mirror = statusMirror{
		fsm:          state.FSMState,
		lastActivity: s.nowFn(),
		whiteID:      state.White.UserID,
		blackID:      state.Black.UserID,
	}
	s.mirrorMu.Unlock()
}

func (s *Session) run() {
	timer := time.NewTimer(s.nextWakeDuration(s.nowFn()))
	defer func() {
		timer.Stop()
		close(s.stoppedCh)
	}()
	for {
		select {
		case env := <-s.cmdCh:
			s.handle(env)
		case <-timer.C:
			s.onTimerWake()
		case <-s.shutdownCh:
			return
		}
		resetTimer(timer, s.nextWakeDuration(s.nowFn()))
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// nextWakeDuration picks the earliest of: the active side's zero-time
// instant, the next clock-tick cadence, and any disconnect-grace expiry.
func (s *Session) nextWakeDuration(now time.Time) time.Duration {
	if s.fsm != Live {
		return longIdle
	}
	peek := s.clk.Peek(now)
	activeRemaining := peek.WhiteMs
	if peek.ActiveSide == clock.Black {
		activeRemaining = peek.BlackMs
	}
	best := time.Duration(activeRemaining) * time.Millisecond
	if s.tickInterval < best {
		best = s.tickInterval
	}
	for _, seat := range [2]Seat{s.white, s.black} {
		if !seat.HasDisconnectedAt {
			continue
		}
		remain := s.disconnectGrace - now.Sub(seat.DisconnectedAt)
		if remain < 0 {
			remain = 0
		}
		if remain < best {
			best = remain
		}
	}
	if best < minWake {
		best = minWake
	}
	return best
}

func (s *Session) onTimerWake() {
	now := s.nowFn()
	if s.fsm != Live {
		return
	}
	peek := s.clk.Peek(now)
	activeRemaining := peek.WhiteMs
	if peek.ActiveSide == clock.Black {
		activeRemaining = peek.BlackMs
	}
	if activeRemaining <= 0 {
		s.completeByTimeout(now, colorFromSide(peek.ActiveSide))
		return
	}
	if s.checkAbandonment(now) {
		return
	}
	if now.Sub(s.lastTickAt) >= s.tickInterval {
		s.lastTickAt = now
		s.bus.Publish("clock-tick", ClockSnapshot{
			WhiteRemainingMs: peek.WhiteMs,
			BlackRemainingMs: peek.BlackMs,
			ActiveSide:       colorFromSide(peek.ActiveSide),
		})
	}
}

func (s *Session) handle(env envelope) {
	if env.ctx.Err() != nil {
		env.reply <- reply{err: ErrCommandTimeout}
		return
	}
	now := s.nowFn()
	switch c := env.body.(type) {
	case cmdSeatPlayer:
		env.reply <- s.handleSeatPlayer(c, now)
	case cmdMove:
		env.reply <- s.handleMove(c, now)
	case cmdResign:
		env.reply <- s.handleResign(c, now)
	case cmdOfferDraw:
		env.reply <- s.handleOfferDraw(c, now)
	case cmdAcceptDraw:
		env.reply <- s.handleAcceptDraw(c, now)
	case cmdDeclineDraw:
		env.reply <- s.handleDeclineDraw(c, now)
	case cmdTimeoutCheck:
		env.reply <- s.handleTimeoutCheck(now)
	case cmdSubscribe:
		env.reply <- s.handleSubscribe(c, now)
	case cmdResume:
		env.reply <- s.handleResume(c, now)
	case cmdUnsubscribe:
		env.reply <- s.handleUnsubscribe(c, now)
	case cmdChat:
		env.reply <- s.handleChat(c, now)
	case cmdSnapshot:
		env.reply <- reply{state: s.buildState(now)}
	}
}

func (s *Session) seatPtr(c chess.Color) *Seat {
	if c == chess.White {
		return &s.white
	}
	return &s.black
}

func (s *Session) seatUserID(c chess.Color) string {
	return s.seatPtr(c).UserID
}

func (s *Session) findSeat(userID string) (Seat, chess.Color, bool) {
	if userID == "" {
		return Seat{}, 0, false
	}
	if s.white.UserID == userID {
		return s.white, chess.White, true
	}
	if s.black.UserID == userID {
		return s.black, chess.Black, true
	}
	return Seat{}, 0, false
}

func (s *Session) markConnected(userID string) {
	if userID == "" {
		return
	}
	if s.white.UserID == userID {
		s.white.Connections++
		s.white.HasDisconnectedAt = false
	}
	if s.black.UserID == userID {
		s.black.Connections++
		s.black.HasDisconnectedAt = false
	}
}

func (s *Session) markDisconnected(userID string, now time.Time) {
	if userID == "" {
		return
	}
	seat := (*Seat)(nil)
	if s.white.UserID == userID {
		seat = &s.white
	} else if s.black.UserID == userID {
		seat = &s.black
	}
	if seat == nil {
		return
	}
	if seat.Connections > 0 {
		seat.Connections--
	}
	if seat.Connections == 0 {
		seat.HasDisconnectedAt = true
		seat.DisconnectedAt = now
	}
}

func (s *Session) buildState(now time.Time) GameState {
	peek := s.clk.Peek(now)
	history := make([]MoveRecord, len(s.history))
	copy(history, s.history)
	var offer *DrawOffer
	if s.drawOffer != nil {
		o := *s.drawOffer
		offer = &o
	}
	return GameState{
		ID:          s.id,
		White:       s.white,
		Black:       s.black,
		Mode:        s.mode,
		Spec:        s.spec,
		FEN:         s.engine.FEN(s.pos),
		MoveHistory: history,
		Clock: ClockSnapshot{
			WhiteRemainingMs: peek.WhiteMs,
			BlackRemainingMs: peek.BlackMs,
			ActiveSide:       colorFromSide(peek.ActiveSide),
		},
		DrawOffer:      offer,
		FSMState:       s.fsm,
		Result:         s.result,
		EndReason:      s.endReason,
		WinnerID:       s.winnerID,
		StartedAt:      s.startedAt,
		HasStartedAt:   s.hasStartedAt,
		CompletedAt:    s.completedAt,
		HasCompletedAt: s.hasCompletedAt,
		Seq:            s.bus.CurrentSeq(),
	}
}

// completeAndPublish publishes specificKind (if non-empty) followed by the
// shared "completed" kind that the persistence projector listens for.
func (s *Session) completeAndPublish(now time.Time, specificKind string) GameState {
	state := s.buildState(now)
	if specificKind != "" {
		s.bus.Publish(specificKind, state)
	}
	s.bus.Publish("completed", state)
	if s.projector != nil {
		s.projector.ProjectCompleted(state)
	}
	s.refreshStatusMirror(state)
	return state
}

func (s *Session) completeByTimeout(now time.Time, flaggedSide chess.Color) GameState {
	opponent := flaggedSide.Other()
	s.clk.Stop()
	s.fsm = Completed
	s.completedAt = now
	s.hasCompletedAt = true
	if s.engine.HasMatingMaterial(s.pos, opponent) {
		s.result = resultFor(opponent)
		s.endReason = EndTimeout
		s.winnerID = s.seatUserID(opponent)
	} else {
		s.result = Draw
		s.endReason = EndInsufficientMaterialVsTimeout
		s.winnerID = ""
	}
	return s.completeAndPublish(now, "")
}

func (s *Session) checkAbandonment(now time.Time) bool {
	whiteExpired := s.white.HasDisconnectedAt && now.Sub(s.white.DisconnectedAt) >= s.disconnectGrace
	blackExpired := s.black.HasDisconnectedAt && now.Sub(s.black.DisconnectedAt) >= s.disconnectGrace

	var shouldEnd bool
	var res Result
	var winner string
	switch {
	case whiteExpired && blackExpired:
		shouldEnd, res, winner = true, Draw, ""
	case whiteExpired && s.black.Connections > 0:
		shouldEnd, res, winner = true, resultFor(chess.Black), s.black.UserID
	case blackExpired && s.white.Connections > 0:
		shouldEnd, res, winner = true, resultFor(chess.White), s.white.UserID
	}
	if !shouldEnd {
		return false
	}

	s.clk.Stop()
	s.fsm = Completed
	s.result = res
	s.winnerID = winner
	s.endReason = EndAbandonment
	s.completedAt = now
	s.hasCompletedAt = true
	s.completeAndPublish(now, "abandoned")
	return true
}

func (s *Session) handleSeatPlayer(c cmdSeatPlayer, now time.Time) reply {
	if s.fsm != Lobby {
		return reply{err: ErrWrongFSMState}
	}
	if _, _, seated := s.findSeat(c.userID); seated {
		return reply{err: ErrSeatTaken}
	}
	var target chess.Color
	switch {
	case c.color != nil:
		target = *c.color
	case s.white.Empty():
		target = chess.White
	default:
		target = chess.Black
	}
	seat := s.seatPtr(target)
	if !seat.Empty() {
		return reply{err: ErrSeatTaken}
	}
	*seat = Seat{UserID: c.userID, Username: c.username}

	justWentLive := false
	if !s.white.Empty() && !s.black.Empty() {
		s.fsm = Live
		s.clk.Start(now)
		s.startedAt = now
		s.hasStartedAt = true
		s.moveStartedAt = now
		justWentLive = true
	}

	state := s.buildState(now)
	s.bus.Publish("seated", state)
	if justWentLive && s.projector != nil {
		s.projector.ProjectSeated(state)
	}
	s.refreshStatusMirror(state)
	return reply{state: state}
}

func (s *Session) handleMove(c cmdMove, now time.Time) reply {
	if s.fsm != Live {
		return reply{err: ErrWrongFSMState}
	}
	_, color, ok := s.findSeat(c.userID)
	if !ok {
		return reply{err: ErrNotAPlayer}
	}
	if s.engine.SideToMove(s.pos) != color {
		return reply{err: ErrNotYourTurn}
	}

	peek := s.clk.Peek(now)
	activeRemaining := peek.WhiteMs
	if peek.ActiveSide == clock.Black {
		activeRemaining = peek.BlackMs
	}
	if activeRemaining <= 0 {
		state := s.completeByTimeout(now, color)
		return reply{state: state, err: ErrTimeExpired}
	}

	res, err := s.engine.ApplyMove(s.pos, chess.MoveRequest{From: c.from, To: c.to, Promotion: c.promotion})
	if err != nil {
		return reply{err: err}
	}
	s.clk.CommitMove(now)
	elapsed := now.Sub(s.moveStartedAt).Milliseconds()
	s.moveStartedAt = now
	s.pos = res.Position

	rec := MoveRecord{
		GameID:             s.id,
		Ordinal:            len(s.history) + 1,
		Mover:              color,
		From:               c.from,
		To:                 c.to,
		SAN:                res.SAN,
		CapturedPiece:      res.CapturedPiece,
		IsCheck:            res.Flags.Check,
		IsCheckmate:        res.Flags.Checkmate,
		IsCastle:           res.Flags.Castle,
		IsEnPassant:        res.Flags.EnPassant,
		Promotion:          c.promotion,
		ElapsedMsForMove:   elapsed,
		WallClockTimestamp: now,
	}
	s.history = append(s.history, rec)
	s.drawOffer = nil

	term := s.engine.TerminalChecks(s.pos)
	state := s.buildState(now)
	s.bus.Publish("move", MoveEvent{State: state, Move: rec})
	if s.projector != nil {
		s.projector.ProjectMove(state, rec)
	}

	if !term.IsTerminal() {
		s.refreshStatusMirror(state)
		return reply{state: state}
	}

	s.fsm = Completed
	s.clk.Stop()
	s.completedAt = now
	s.hasCompletedAt = true
	switch term.Reason {
	case chess.Checkmate:
		s.result = resultFor(term.Winner)
		s.endReason = EndCheckmate
		s.winnerID = s.seatUserID(term.Winner)
	case chess.Stalemate:
		s.result, s.endReason = Draw, EndStalemate
	case chess.InsufficientMaterial:
		s.result, s.endReason = Draw, EndInsufficientMaterial
	case chess.FiftyMoveRule:
		s.result, s.endReason = Draw, EndFiftyMove
	case chess.ThreefoldRepetition:
		s.result, s.endReason = Draw, EndThreefoldRepetition
	}
	state = s.completeAndPublish(now, "")
	return reply{state: state}
}

func (s *Session) handleResign(c cmdResign, now time.Time) reply {
	if s.fsm != Live {
		return reply{err: ErrWrongFSMState}
	}
	_, color, ok := s.findSeat(c.userID)
	if !ok {
		return reply{err: ErrNotAPlayer}
	}
	opponent := color.Other()
	s.clk.Stop()
	s.fsm = Completed
	s.result = resultFor(opponent)
	s.endReason = EndResignation
	s.winnerID = s.seatUserID(opponent)
	s.completedAt = now
	s.hasCompletedAt = true
	state := s.completeAndPublish(now, "resigned")
	return reply{state: state}
}

func (s *Session) handleOfferDraw(c cmdOfferDraw, now time.Time) reply {
	if s.fsm != Live {
		return reply{err: ErrWrongFSMState}
	}
	_, color, ok := s.findSeat(c.userID)
	if !ok {
		return reply{err: ErrNotAPlayer}
	}
	if s.drawOffer != nil && s.drawOffer.By == color {
		// Re-offering by the same side is a no-op.
		return reply{state: s.buildState(now)}
	}
	s.drawOffer = &DrawOffer{By: color, At: now}
	state := s.buildState(now)
	s.bus.Publish("draw-offered", state)
	return reply{state: state}
}

func (s *Session) handleAcceptDraw(c cmdAcceptDraw, now time.Time) reply {
	if s.fsm != Live {
		return reply{err: ErrWrongFSMState}
	}
	_, color, ok := s.findSeat(c.userID)
	if !ok {
		return reply{err: ErrNotAPlayer}
	}
	if s.drawOffer == nil || s.drawOffer.By == color {
		return reply{err: ErrNoDrawOffer}
	}
	s.drawOffer = nil
	s.clk.Stop()
	s.fsm = Completed
	s.result = Draw
	s.endReason = EndDrawAgreement
	s.winnerID = ""
	s.completedAt = now
	s.hasCompletedAt = true
	state := s.completeAndPublish(now, "draw-accepted")
	return reply{state: state}
}

func (s *Session) handleDeclineDraw(c cmdDeclineDraw, now time.Time) reply {
	if s.fsm != Live {
		return reply{err: ErrWrongFSMState}
	}
	_, color, ok := s.findSeat(c.userID)
	if !ok {
		return reply{err: ErrNotAPlayer}
	}
	if s.drawOffer == nil || s.drawOffer.By == color {
		return reply{err: ErrNoDrawOffer}
	}
	s.drawOffer = nil
	state := s.buildState(now)
	s.bus.Publish("draw-declined", state)
	return reply{state: state}
}

func (s *Session) handleTimeoutCheck(now time.Time) reply {
	if s.fsm != Live {
		return reply{err: ErrWrongFSMState}
	}
	peek := s.clk.Peek(now)
	activeRemaining := peek.WhiteMs
	if peek.ActiveSide == clock.Black {
		activeRemaining = peek.BlackMs
	}
	if activeRemaining > 0 {
		return reply{state: s.buildState(now)}
	}
	state := s.completeByTimeout(now, colorFromSide(peek.ActiveSide))
	return reply{state: state}
}

func (s *Session) handleSubscribe(c cmdSubscribe, now time.Time) reply {
	seq, events := s.bus.Subscribe(c.subscriberID)
	s.markConnected(c.userID)
	return reply{state: s.buildState(now), seq: seq, events: events}
}

func (s *Session) handleResume(c cmdResume, now time.Time) reply {
	tail, events, ok := s.bus.Resume(c.subscriberID, c.lastSeq)
	if !ok {
		return reply{resumeOK: false}
	}
	s.markConnected(c.userID)
	return reply{state: s.buildState(now), tail: tail, events: events, resumeOK: true}
}

func (s *Session) handleUnsubscribe(c cmdUnsubscribe, now time.Time) reply {
	s.bus.Unsubscribe(c.subscriberID)
	s.markDisconnected(c.userID, now)
	return reply{state: s.buildState(now)}
}

// handleChat publishes a chat event with no FSM or seat-state gating: it
// never changes fsm, position, or clock, and is accepted in any phase.
func (s *Session) handleChat(c cmdChat, now time.Time) reply {
	s.bus.Publish("chat", ChatMessage{GameID: s.id, FromUserID: c.userID, Body: c.body, At: now})
	return reply{}
}
