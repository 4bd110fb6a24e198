// Package store defines the durable-store boundary: the external
// persistence layer for users, games, and moves. Sessions never talk to it
// directly; only the persistence projector (internal/projector) does, and
// only by calling this interface.
//
// Store itself is storage-agnostic: MongoStore backs it with
// go.mongodb.org/mongo-driver, and MemoryStore backs it with plain maps
// for tests and the in-process default.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get-style lookups that miss.
var ErrNotFound = errors.New("not-found")

// ErrAlreadyExists names a unique-constraint violation. No Store method in
// this package returns it: a duplicate move insert is a silent no-op.
var ErrAlreadyExists = errors.New("already-exists")

// User is one users(...) row.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	EloRating    float64
	GamesPlayed  int
	GamesWon     int
	GamesLost    int
	GamesDrawn   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Game is one games(...) row.
type Game struct {
	ID               string
	WhiteID          string
	BlackID          string
	GameMode         string
	TimeControlMs    int64
	IncrementMs      int64
	DelayMs          int64
	DelayMode        string
	FEN              string
	PGN              string
	WhiteRemainingMs int64
	BlackRemainingMs int64
	ActiveColor      string
	TimerLastStamp   time.Time
	Status           string
	Result           string
	WinnerID         string
	EndReason        string
	StartedAt        time.Time
	HasStartedAt     bool
	CompletedAt      time.Time
	HasCompletedAt   bool
	RatingApplied    bool
}

// Move is one moves(...) row.
type Move struct {
	ID          string
	GameID      string
	Ordinal     int
	Color       string
	From        string
	To          string
	SAN         string
	Captured    string
	IsCheck     bool
	IsCheckmate bool
	IsCastle    bool
	IsEnPassant bool
	Promotion   string
	ElapsedMs   int64
	Timestamp   time.Time
}

// RatingUpdate is one side's Elo adjustment applied transactionally with a
// game's completion row.
type RatingUpdate struct {
	UserID           string
	Delta            int
	Won, Lost, Drawn bool
}

// Store is the durable-store boundary. Every write the persistence
// projector performs goes through here; it is the only component with this
// dependency, and it never reads authoritative state back out during a
// live game.
type Store interface {
	// UpsertGame inserts or fully replaces a game row. Used when a Session
	// transitions to Live and gains its startedAt.
	UpsertGame(ctx context.Context, g Game) error

	// InsertMove inserts a move row idempotently: a second insert with the
	// same (GameID, Ordinal) is a silent no-op rather than an error, since
	// the projector's retry can re-deliver the same move after a partial
	// failure.
	// It also persists the position/clock/active-color fields the move
	// produced onto the game row.
	InsertMove(ctx context.Context, m Move, fen, pgn string, whiteRemainingMs, blackRemainingMs int64, activeColor string, timerStamp time.Time) error

	// CompleteGame transactionally updates the game row (status, result,
	// winner, end reason, completedAt) together with the two users' rating
	// and win/loss/draw counters, applied at most once per game (gated on
	// the game row's status transition). updates may be empty (e.g. when
	// a player has no user row).
	CompleteGame(ctx context.Context, gameID string, g Game, updates []RatingUpdate) error

	// GetGame fetches a game row by id.
	GetGame(ctx context.Context, gameID string) (Game, error)

	// ListMoves returns a game's moves in ordinal order, paginated.
	ListMoves(ctx context.Context, gameID string, limit, offset int) ([]Move, error)

	// GetUser fetches a user row by id.
	GetUser(ctx context.Context, userID string) (User, error)
}
