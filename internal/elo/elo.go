// Package elo implements the rating update applied at game completion:
// K=32 by default, logistic expected score, nearest-integer rounding.
package elo

import "math"

// KFactor is the default rating-change sensitivity.
const KFactor = 32.0

// Outcome is the result of a game from a single player's point of view.
type Outcome float64

const (
	Loss Outcome = 0.0
	Draw Outcome = 0.5
	Win  Outcome = 1.0
)

// Expected returns the logistic expected score for a player rated ra
// against an opponent rated rb.
func Expected(ra, rb float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (rb-ra)/400.0))
}

// Delta returns the rounded rating change for a player rated "rating",
// facing an opponent rated "opponent", given the actual outcome.
func Delta(rating, opponent float64, outcome Outcome, k float64) int {
	expected := Expected(rating, opponent)
	raw := k * (float64(outcome) - expected)
	return int(math.Round(raw))
}

// Update computes the post-game rating deltas for both sides of a single
// game. The deltas are rounded independently, so they are not forced to be
// exact negatives of each other.
func Update(whiteRating, blackRating float64, whiteOutcome Outcome, k float64) (whiteDelta, blackDelta int) {
	whiteDelta = Delta(whiteRating, blackRating, whiteOutcome, k)
	blackDelta = Delta(blackRating, whiteRating, 1.0-whiteOutcome, k)
	return whiteDelta, blackDelta
}
