package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store backed by plain maps under one mutex.
// It is the default store for tests and for running the server without a
// MongoDB instance; it implements the same idempotency and
// rating-applied-once rules as MongoStore so callers can swap between the
// two freely.
type MemoryStore struct {
	mu    sync.Mutex
	games map[string]Game
	moves map[string][]Move // gameID -> moves, ordinal-ordered
	users map[string]User
}

// NewMemoryStore constructs an empty MemoryStore, optionally seeded with
// users (e.g. test fixtures or a standalone run without an Identity
// Provider-backed user table).
func NewMemoryStore(seedUsers ...User) *MemoryStore {
	s := &MemoryStore{
		games: make(map[string]Game),
		moves: make(map[string][]Move),
		users: make(map[string]User),
	}
	for _, u := range seedUsers {
		s.users[u.ID] = u
	}
	return s
}

func (s *MemoryStore) UpsertGame(ctx context.Context, g Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[g.ID] = g
	return nil
}

func (s *MemoryStore) InsertMove(ctx context.Context, m Move, fen, pgn string, whiteRemainingMs, blackRemainingMs int64, activeColor string, timerStamp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.moves[m.GameID] {
		if existing.Ordinal == m.Ordinal {
			return nil // idempotent re-delivery
		}
	}
	s.moves[m.GameID] = append(s.moves[m.GameID], m)

	g, ok := s.games[m.GameID]
	if !ok {
		return ErrNotFound
	}
	g.FEN = fen
	g.PGN = pgn
	g.WhiteRemainingMs = whiteRemainingMs
	g.BlackRemainingMs = blackRemainingMs
	g.ActiveColor = activeColor
	g.TimerLastStamp = timerStamp
	s.games[m.GameID] = g
	return nil
}

// CompleteGame applies the game row and rating updates atomically under
// the store's single mutex, and is a no-op if the game is already
// completed, so a rating is applied at most once per game.
func (s *MemoryStore) CompleteGame(ctx context.Context, gameID string, g Game, updates []RatingUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.games[gameID]; ok && existing.Status == "completed" {
		return nil
	}

	for _, u := range updates {
		user, ok := s.users[u.UserID]
		if !ok {
			continue
		}
		user.EloRating += float64(u.Delta)
		user.GamesPlayed++
		switch {
		case u.Won:
			user.GamesWon++
		case u.Lost:
			user.GamesLost++
		case u.Drawn:
			user.GamesDrawn++
		}
		user.UpdatedAt = g.CompletedAt
		s.users[u.UserID] = user
	}

	g.RatingApplied = len(updates) > 0 || g.RatingApplied
	s.games[gameID] = g
	return nil
}

func (s *MemoryStore) GetGame(ctx context.Context, gameID string) (Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok {
		return Game{}, ErrNotFound
	}
	return g, nil
}

func (s *MemoryStore) ListMoves(ctx context.Context, gameID string, limit, offset int) ([]Move, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.moves[gameID]
	sorted := make([]Move, len(all))
	copy(sorted, all)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ordinal < sorted[j].Ordinal })

	if offset >= len(sorted) {
		return nil, nil
	}
	sorted = sorted[offset:]
	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

func (s *MemoryStore) GetUser(ctx context.Context, userID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

// PutUser inserts or replaces a user row (test/seed helper; user creation
// proper lives outside this module).
func (s *MemoryStore) PutUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}
