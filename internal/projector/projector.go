// Package projector implements the persistence projector: on every Session
// emission of seated/move/completed, it writes through to the durable
// store, idempotently and without ever blocking the Session that emitted
// it. Each write runs in its own retry-with-backoff goroutine;
// internal/vclock sizes the outstanding-write backlog per game so a
// Session whose writes keep failing can be flagged divergent without a
// shared lock across every in-flight write.
package projector

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/vimsent/chessrt/internal/elo"
	"github.com/vimsent/chessrt/internal/log"
	"github.com/vimsent/chessrt/internal/session"
	"github.com/vimsent/chessrt/internal/store"
	"github.com/vimsent/chessrt/internal/vclock"
)

// DefaultMaxRetries bounds the exponential backoff before a write is
// declared divergent.
const DefaultMaxRetries = 5

// DefaultBaseBackoff is the first retry delay; each subsequent attempt
// doubles it.
const DefaultBaseBackoff = 200 * time.Millisecond

// DefaultDivergenceThreshold is the outstanding-write backlog size above
// which new-game admission starts rejecting.
const DefaultDivergenceThreshold = 50

// Config constructs a Projector.
type Config struct {
	Store               store.Store
	MaxRetries          int
	BaseBackoff         time.Duration
	DivergenceThreshold int64
	EloK                float64
	Now                 func() time.Time
}

// Projector implements session.Projector against a store.Store, spawning
// one retrying background write per emission so the calling Session's
// actor loop is never blocked on I/O.
type Projector struct {
	store       store.Store
	maxRetries  int
	baseBackoff time.Duration
	threshold   int64
	eloK        float64
	nowFn       func() time.Time

	backlog *vclock.Vector

	mu        sync.Mutex
	divergent map[string]bool

	wg sync.WaitGroup
}

// New constructs a Projector.
func New(cfg Config) *Projector {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.DivergenceThreshold <= 0 {
		cfg.DivergenceThreshold = DefaultDivergenceThreshold
	}
	if cfg.EloK <= 0 {
		cfg.EloK = elo.KFactor
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Projector{
		store:       cfg.Store,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
		threshold:   cfg.DivergenceThreshold,
		eloK:        cfg.EloK,
		nowFn:       cfg.Now,
		backlog:     vclock.New(),
		divergent:   make(map[string]bool),
	}
}

// IsDivergent reports whether gameID's persistence backlog has exhausted
// retries; retry checks it so a divergent game's later writes are skipped.
func (p *Projector) IsDivergent(gameID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.divergent[gameID]
}

// BacklogSize reports the total outstanding (unacknowledged) write count
// across every game, used for the divergence-backlog admission check.
func (p *Projector) BacklogSize() int64 {
	return p.backlog.Total()
}

// Wait blocks until every in-flight write has finished (tests, and the
// server on shutdown).
func (p *Projector) Wait() { p.wg.Wait() }

func (p *Projector) markDivergent(gameID string) {
	p.mu.Lock()
	p.divergent[gameID] = true
	p.mu.Unlock()
	log.With("gameId", gameID).Error("persistence-divergent: retries exhausted, halting further writes for this game")
}

// retry runs write up to p.maxRetries times with doubling backoff,
// releasing gameID's backlog tick on success and marking the game
// divergent on exhaustion. It never blocks the emitting Session.
func (p *Projector) retry(gameID string, write func(ctx context.Context) error) {
	p.wg.Add(1)
	p.backlog.Tick(gameID)
	go func() {
		defer p.wg.Done()
		defer p.backlog.Release(gameID)

		if p.IsDivergent(gameID) {
			return
		}

		delay := p.baseBackoff
		var err error
		for attempt := 0; attempt < p.maxRetries; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = write(ctx)
			cancel()
			if err == nil {
				return
			}
			log.With("gameId", gameID).Warn("persistence-retry: attempt %d/%d failed: %v", attempt+1, p.maxRetries, err)
			time.Sleep(delay)
			delay = time.Duration(math.Min(float64(delay*2), float64(30*time.Second)))
		}
		p.markDivergent(gameID)
	}()
}

// ProjectSeated writes the game row, with its startedAt, once both seats
// are filled and the game goes Live.
func (p *Projector) ProjectSeated(state session.GameState) {
	g := gameRowFor(state)
	p.retry(state.ID, func(ctx context.Context) error {
		return p.store.UpsertGame(ctx, g)
	})
}

// ProjectMove writes an idempotent move row plus the resulting
// position/clock snapshot.
func (p *Projector) ProjectMove(state session.GameState, mv session.MoveRecord) {
	m := moveRowFor(mv)
	fen := state.FEN
	pgn := pgnFor(state.MoveHistory)
	white, black := state.Clock.WhiteRemainingMs, state.Clock.BlackRemainingMs
	active := colorString(state.Clock.ActiveSide)
	ts := mv.WallClockTimestamp
	p.retry(state.ID, func(ctx context.Context) error {
		return p.store.InsertMove(ctx, m, fen, pgn, white, black, active, ts)
	})
}

// ProjectCompleted writes the transactional completion update: the game
// row plus both players' Elo deltas and win/loss/draw counters, in one
// store call. A game with an empty seat has no opponent to rate and skips
// the Elo computation entirely.
func (p *Projector) ProjectCompleted(state session.GameState) {
	g := gameRowFor(state)
	updates := p.ratingUpdates(state)
	p.retry(state.ID, func(ctx context.Context) error {
		return p.store.CompleteGame(ctx, state.ID, g, updates)
	})
}

// ratingUpdates computes the Elo deltas for a completed game: K from
// config, logistic expectation, nearest-integer rounding, rounded
// independently per side. Fetches both players' current
// ratings from the store; an empty seat or a missing user row skips the
// update.
func (p *Projector) ratingUpdates(state session.GameState) []store.RatingUpdate {
	if state.White.UserID == "" || state.Black.UserID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	white, err := p.store.GetUser(ctx, state.White.UserID)
	if err != nil {
		return nil
	}
	black, err := p.store.GetUser(ctx, state.Black.UserID)
	if err != nil {
		return nil
	}

	var whiteOutcome elo.Outcome
	switch state.Result {
	case session.WhiteWins:
		whiteOutcome = elo.Win
	case session.BlackWins:
		whiteOutcome = elo.Loss
	case session.Draw:
		whiteOutcome = elo.Draw
	default:
		return nil
	}

	whiteDelta, blackDelta := elo.Update(white.EloRating, black.EloRating, whiteOutcome, p.eloK)
	return []store.RatingUpdate{
		{UserID: state.White.UserID, Delta: whiteDelta, Won: whiteOutcome == elo.Win, Lost: whiteOutcome == elo.Loss, Drawn: whiteOutcome == elo.Draw},
		{UserID: state.Black.UserID, Delta: blackDelta, Won: whiteOutcome == elo.Loss, Lost: whiteOutcome == elo.Win, Drawn: whiteOutcome == elo.Draw},
	}
}

func gameRowFor(state session.GameState) store.Game {
	status := "lobby"
	switch state.FSMState {
	case session.Live:
		status = "active"
	case session.Completed:
		status = "completed"
	}
	return store.Game{
		ID:               state.ID,
		WhiteID:          state.White.UserID,
		BlackID:          state.Black.UserID,
		GameMode:         string(state.Mode),
		TimeControlMs:    state.Spec.InitialMs,
		IncrementMs:      state.Spec.IncrementMs,
		DelayMs:          state.Spec.DelayMs,
		DelayMode:        state.Spec.Discipline.String(),
		FEN:              state.FEN,
		PGN:              pgnFor(state.MoveHistory),
		WhiteRemainingMs: state.Clock.WhiteRemainingMs,
		BlackRemainingMs: state.Clock.BlackRemainingMs,
		ActiveColor:      colorString(state.Clock.ActiveSide),
		Status:           status,
		Result:           state.Result.String(),
		WinnerID:         state.WinnerID,
		EndReason:        string(state.EndReason),
		StartedAt:        state.StartedAt,
		HasStartedAt:     state.HasStartedAt,
		CompletedAt:      state.CompletedAt,
		HasCompletedAt:   state.HasCompletedAt,
	}
}

func moveRowFor(mv session.MoveRecord) store.Move {
	return store.Move{
		ID:          moveID(mv.GameID, mv.Ordinal),
		GameID:      mv.GameID,
		Ordinal:     mv.Ordinal,
		Color:       colorString(mv.Mover),
		From:        mv.From,
		To:          mv.To,
		SAN:         mv.SAN,
		Captured:    mv.CapturedPiece,
		IsCheck:     mv.IsCheck,
		IsCheckmate: mv.IsCheckmate,
		IsCastle:    mv.IsCastle,
		IsEnPassant: mv.IsEnPassant,
		Promotion:   mv.Promotion,
		ElapsedMs:   mv.ElapsedMsForMove,
		Timestamp:   mv.WallClockTimestamp,
	}
}

func moveID(gameID string, ordinal int) string {
	return gameID + ":" + strconv.Itoa(ordinal)
}

// pgnFor renders a minimal movetext string from the history, numbered in
// standard PGN pairs.
func pgnFor(history []session.MoveRecord) string {
	var b []byte
	for i, mv := range history {
		if i%2 == 0 {
			b = append(b, strconv.Itoa(i/2+1)+". "...)
		}
		b = append(b, mv.SAN...)
		b = append(b, ' ')
	}
	return string(b)
}

func colorString(c fmt.Stringer) string { return c.String() }
