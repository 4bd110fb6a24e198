package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertMoveIsIdempotentOnOrdinal(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertGame(ctx, Game{ID: "g1", Status: "active"}))

	m := Move{ID: "g1:1", GameID: "g1", Ordinal: 1, SAN: "e4"}
	require.NoError(t, s.InsertMove(ctx, m, "fen-after-e4", "1. e4 ", 177000, 180000, "black", time.Now()))
	require.NoError(t, s.InsertMove(ctx, m, "fen-after-e4", "1. e4 ", 177000, 180000, "black", time.Now()))

	moves, err := s.ListMoves(ctx, "g1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, moves, 1)

	g, err := s.GetGame(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "fen-after-e4", g.FEN)
}

func TestCompleteGameAppliesRatingOnce(t *testing.T) {
	s := NewMemoryStore(
		User{ID: "alice", EloRating: 1200},
		User{ID: "bob", EloRating: 1200},
	)
	ctx := context.Background()
	require.NoError(t, s.UpsertGame(ctx, Game{ID: "g1", WhiteID: "alice", BlackID: "bob", Status: "active"}))

	completed := Game{ID: "g1", WhiteID: "alice", BlackID: "bob", Status: "completed", Result: "white_wins"}
	updates := []RatingUpdate{
		{UserID: "alice", Delta: 16, Won: true},
		{UserID: "bob", Delta: -16, Lost: true},
	}
	require.NoError(t, s.CompleteGame(ctx, "g1", completed, updates))
	// A second delivery of the same completion must not double-apply.
	require.NoError(t, s.CompleteGame(ctx, "g1", completed, updates))

	alice, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, float64(1216), alice.EloRating)
	assert.Equal(t, 1, alice.GamesWon)

	bob, err := s.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, float64(1184), bob.EloRating)
	assert.Equal(t, 1, bob.GamesLost)
}

func TestGetGameNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetGame(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
