// Package registry implements the session registry: an in-memory
// gameId -> Session map, guarded for concurrent lookup/insert, that creates
// sessions, looks them up, enumerates Lobby sessions for the Matchmaker,
// retires Completed sessions after a grace period, and enforces the
// per-user active-game cap.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vimsent/chessrt/internal/chess"
	"github.com/vimsent/chessrt/internal/clock"
	"github.com/vimsent/chessrt/internal/eventbus"
	"github.com/vimsent/chessrt/internal/log"
	"github.com/vimsent/chessrt/internal/session"
)

// DefaultMaxActiveGames is the per-user cap on Lobby|Live sessions.
const DefaultMaxActiveGames = 5

// DefaultRetireAfter is how long a Completed session stays reachable by id
// before the sweep removes it, so clients can still read the final state.
const DefaultRetireAfter = 5 * time.Minute

// DefaultSweepInterval is how often the retire sweep runs.
const DefaultSweepInterval = 30 * time.Second

// ErrTooManyActiveGames is returned when a user is already seated in
// MaxActiveGames Lobby|Live sessions.
var ErrTooManyActiveGames = errorString("too-many-active-games")

// ErrNoSuchGame is returned by Get/Join for an unknown gameId.
var ErrNoSuchGame = errorString("no-such-game")

// ErrPersistenceDivergent is returned by Create when the persistence
// projector's outstanding-write backlog has crossed its divergence
// threshold: admission rejects new games it could not durably record.
var ErrPersistenceDivergent = errorString("persistence-divergent")

// DefaultBacklogThreshold mirrors projector.DefaultDivergenceThreshold; the
// Registry only imports a plain int64 so it never needs to depend on the
// projector package (the same DI seam SessionFactory uses for the Session).
const DefaultBacklogThreshold = 50

type errorString string

func (e errorString) Error() string { return string(e) }

// SessionFactory builds a new Session for Create; injected so tests can
// supply a fake time source/engine/bus without the Registry knowing about
// session.Config's internals beyond what it needs to set (id, mode, spec).
type SessionFactory func(id string, mode session.GameMode, spec clock.Spec) *session.Session

// Registry is the live gameId -> Session map.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session

	maxActiveGames   int
	retireAfter      time.Duration
	newSession       SessionFactory
	backlogSize      func() int64
	backlogThreshold int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// Config constructs a Registry.
type Config struct {
	MaxActiveGames int
	RetireAfter    time.Duration
	SweepInterval  time.Duration
	NewSession     SessionFactory

	// BacklogSize, when set, is consulted by Create against
	// BacklogThreshold before admitting a new game. Typically
	// projector.Projector.BacklogSize. Left nil, admission is never gated
	// on persistence health (used by tests that run without a Projector).
	BacklogSize      func() int64
	BacklogThreshold int64
}

// DefaultFactory returns a SessionFactory backed by the real chess engine
// and a real event bus, with the monotonic time source session.New defaults
// to (time.Now).
func DefaultFactory(engine chess.Engine) SessionFactory {
	return func(id string, mode session.GameMode, spec clock.Spec) *session.Session {
		return session.New(session.Config{
			ID:     id,
			Engine: engine,
			Mode:   mode,
			Spec:   spec,
			Bus:    eventbus.New(),
		})
	}
}

// New constructs a Registry and starts its retire sweep goroutine.
func New(cfg Config) *Registry {
	if cfg.MaxActiveGames <= 0 {
		cfg.MaxActiveGames = DefaultMaxActiveGames
	}
	if cfg.RetireAfter <= 0 {
		cfg.RetireAfter = DefaultRetireAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.BacklogThreshold <= 0 {
		cfg.BacklogThreshold = DefaultBacklogThreshold
	}
	r := &Registry{
		sessions:         make(map[string]*session.Session),
		maxActiveGames:   cfg.MaxActiveGames,
		retireAfter:      cfg.RetireAfter,
		newSession:       cfg.NewSession,
		backlogSize:      cfg.BacklogSize,
		backlogThreshold: cfg.BacklogThreshold,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}
	go r.sweepLoop(cfg.SweepInterval)
	return r
}

func (r *Registry) sweepLoop(interval time.Duration) {
	defer close(r.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

// sweep removes Completed sessions idle past retireAfter, mirroring
// matchmaker.detectServerTimeouts's "scan map, evict stale entries" shape.
func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for id, s := range r.sessions {
		fsm, lastActivity := s.Status()
		if fsm == session.Completed && now.Sub(lastActivity) >= r.retireAfter {
			delete(r.sessions, id)
			log.With("gameId", id).Info("retired completed session")
		}
	}
}

// Stop halts the retire sweep. Live sessions are left running; callers
// should Shutdown them individually if a full process stop is intended.
func (r *Registry) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Registry) activeGameCount(userID string) int {
	n := 0
	for _, s := range r.sessions {
		white, black, fsm := s.Seats()
		if fsm == session.Completed {
			continue
		}
		if white == userID || black == userID {
			n++
		}
	}
	return n
}

// Create inserts a fresh Lobby session, seating creatorID.
// colorPref nil lets the Matchmaker's caller omit a preference; the
// Session itself picks the first empty seat (white) when none is given.
func (r *Registry) Create(ctx context.Context, creatorID, creatorUsername string, mode session.GameMode, spec clock.Spec, colorPref *chess.Color) (*session.Session, error) {
	if err := session.ValidateTimeControl(mode, spec); err != nil {
		return nil, err
	}
	if r.backlogSize != nil && r.backlogSize() > r.backlogThreshold {
		return nil, ErrPersistenceDivergent
	}

	r.mu.Lock()
	if r.activeGameCount(creatorID) >= r.maxActiveGames {
		r.mu.Unlock()
		return nil, ErrTooManyActiveGames
	}
	id := uuid.NewString()
	s := r.newSession(id, mode, spec)
	r.sessions[id] = s
	r.mu.Unlock()

	if _, err := s.SeatPlayer(ctx, creatorID, creatorUsername, colorPref); err != nil {
		r.mu.Lock()
		delete(r.sessions, id)
		r.mu.Unlock()
		s.Shutdown()
		return nil, err
	}
	return s, nil
}

// Join seats userID into gameId's empty seat. Rejects if the
// session is not in Lobby, both seats are filled, or userID is already
// seated (ErrSeatTaken bubbles up from the Session itself in that case).
func (r *Registry) Join(ctx context.Context, gameID, userID, username string) (*session.Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[gameID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNoSuchGame
	}

	r.mu.Lock()
	if r.activeGameCount(userID) >= r.maxActiveGames {
		r.mu.Unlock()
		return nil, ErrTooManyActiveGames
	}
	r.mu.Unlock()

	if _, err := s.SeatPlayer(ctx, userID, username, nil); err != nil {
		return nil, err
	}
	return s, nil
}

// Get looks up a session by id.
func (r *Registry) Get(gameID string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[gameID]
	return s, ok
}

// ListLobby enumerates sessions currently awaiting a second player, for the
// Matchmaker/lobby view.
func (r *Registry) ListLobby() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*session.Session
	for _, s := range r.sessions {
		if _, _, fsm := s.Seats(); fsm == session.Lobby {
			out = append(out, s)
		}
	}
	return out
}

// Count reports the number of sessions currently tracked, regardless of FSM
// state (diagnostics).
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
