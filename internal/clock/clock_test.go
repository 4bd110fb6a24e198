package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFischerIncrement(t *testing.T) {
	t0 := time.Unix(0, 0)
	c := New(Spec{InitialMs: 180000, IncrementMs: 2000, Discipline: FischerOnly})
	c.Start(t0)

	res := c.CommitMove(t0.Add(5 * time.Second))
	require.False(t, res.MoverTimedOut)
	assert.Equal(t, Black, res.NewActiveSide)

	snap := c.Peek(t0.Add(5 * time.Second))
	assert.Equal(t, int64(177000), snap.WhiteMs)
	assert.Equal(t, int64(180000), snap.BlackMs)
	assert.Equal(t, Black, snap.ActiveSide)
}

func TestBronsteinDelay(t *testing.T) {
	t0 := time.Unix(0, 0)
	c := New(Spec{InitialMs: 60000, DelayMs: 3000, Discipline: Bronstein})
	c.Start(t0)

	// White takes 2000ms, under the delay: no deduction.
	res := c.CommitMove(t0.Add(2 * time.Second))
	assert.Equal(t, int64(0), res.DeductedMs)
	snap := c.Peek(t0.Add(2 * time.Second))
	assert.Equal(t, int64(60000), snap.WhiteMs)

	// Black moves instantly so it's white's turn again at the same instant.
	t1 := t0.Add(2 * time.Second)
	c.CommitMove(t1)

	// White takes 7000ms, delay covers 3000 of it: deduct 4000.
	t2 := t1.Add(7 * time.Second)
	res2 := c.CommitMove(t2)
	assert.Equal(t, int64(4000), res2.DeductedMs)
	snap2 := c.Peek(t2)
	assert.Equal(t, int64(56000), snap2.WhiteMs)
	assert.Equal(t, int64(60000), snap2.BlackMs)
}

func TestSimpleDelay(t *testing.T) {
	t0 := time.Unix(0, 0)
	c := New(Spec{InitialMs: 30000, DelayMs: 2000, Discipline: Simple})
	c.Start(t0)

	res := c.CommitMove(t0.Add(1500 * time.Millisecond))
	assert.Equal(t, int64(0), res.DeductedMs) // inside the delay window

	c2 := New(Spec{InitialMs: 30000, DelayMs: 2000, Discipline: Simple})
	c2.Start(t0)
	res2 := c2.CommitMove(t0.Add(5 * time.Second))
	assert.Equal(t, int64(3000), res2.DeductedMs) // 5000 - 2000
}

func TestPeekClampsAtZeroAndFlagsTimeout(t *testing.T) {
	t0 := time.Unix(0, 0)
	c := New(Spec{InitialMs: 1000, Discipline: FischerOnly})
	c.Start(t0)

	snap := c.Peek(t0.Add(5 * time.Second))
	assert.Equal(t, int64(0), snap.WhiteMs)

	res := c.CommitMove(t0.Add(5 * time.Second))
	assert.True(t, res.MoverTimedOut)
}

func TestStopFreezesRemaining(t *testing.T) {
	t0 := time.Unix(0, 0)
	c := New(Spec{InitialMs: 10000, Discipline: FischerOnly})
	c.Start(t0)
	c.Stop()

	snap := c.Peek(t0.Add(30 * time.Second))
	assert.Equal(t, int64(10000), snap.WhiteMs)
}
