package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_AllowMoveBurstThenDeny(t *testing.T) {
	l := New(30)

	for i := 0; i < 30; i++ {
		assert.True(t, l.AllowMove("u1", "g1"), "move %d within burst should be allowed", i)
	}
	assert.False(t, l.AllowMove("u1", "g1"), "move beyond burst should be rate-limited")
}

func TestLimiter_PerGameIsolation(t *testing.T) {
	l := New(1)

	assert.True(t, l.AllowMove("u1", "g1"))
	assert.False(t, l.AllowMove("u1", "g1"), "second move in same game exhausts burst of 1")
	assert.True(t, l.AllowMove("u1", "g2"), "a different game has its own bucket")
}

func TestLimiter_AllowCreateBurst(t *testing.T) {
	l := New(30)

	for i := 0; i < 3; i++ {
		assert.True(t, l.AllowCreate("u1"), "create %d within burst of 3 should be allowed", i)
	}
	assert.False(t, l.AllowCreate("u1"), "fourth create should be rate-limited")
}
