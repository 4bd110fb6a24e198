package elo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpectedEqualRatings(t *testing.T) {
	assert.InDelta(t, 0.5, Expected(1200, 1200), 1e-9)
}

func TestExpectedHigherRatingFavored(t *testing.T) {
	e := Expected(1400, 1200)
	assert.Greater(t, e, 0.5)
}

func TestUpdateWinnerGainsLoserLoses(t *testing.T) {
	whiteDelta, blackDelta := Update(1200, 1200, Win, KFactor)
	assert.Equal(t, 16, whiteDelta)
	assert.Equal(t, -16, blackDelta)
}

func TestUpdateDrawEqualRatingsIsZeroSum(t *testing.T) {
	whiteDelta, blackDelta := Update(1200, 1200, Draw, KFactor)
	assert.Equal(t, 0, whiteDelta)
	assert.Equal(t, 0, blackDelta)
}

func TestUpdateUnderdogWinGetsLargerSwing(t *testing.T) {
	whiteDelta, _ := Update(1000, 1400, Win, KFactor)
	favoredDelta, _ := Update(1400, 1000, Win, KFactor)
	assert.Greater(t, whiteDelta, favoredDelta)
}
