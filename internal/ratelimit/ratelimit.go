// Package ratelimit implements the gateway's token-bucket rate limits
// (moves per minute per game, chat per minute per game, game-create per
// five minutes per user), backed by golang.org/x/time/rate with a per-key
// bucket lazily created on first use.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter is a per-(userID,gameID) and per-userID token bucket set keyed
// by action.
type Limiter struct {
	mu            sync.Mutex
	perGame       map[string]*rate.Limiter // key: action+":"+userID+":"+gameID
	perUser       map[string]*rate.Limiter // key: action+":"+userID
	movesRPM      int
	chatRPM       int
	createPer5Min int
}

// New constructs a Limiter. movesPerMin <= 0 falls back to the default of
// 30.
func New(movesPerMin int) *Limiter {
	if movesPerMin <= 0 {
		movesPerMin = 30
	}
	return &Limiter{
		perGame:       make(map[string]*rate.Limiter),
		perUser:       make(map[string]*rate.Limiter),
		movesRPM:      movesPerMin,
		chatRPM:       10,
		createPer5Min: 3,
	}
}

// AllowMove reports whether userID may make another move in gameID now.
func (l *Limiter) AllowMove(userID, gameID string) bool {
	return l.allowPerGame("move", userID, gameID, float64(l.movesRPM)/60.0, l.movesRPM)
}

// AllowChat reports whether userID may send another chat message in gameID
// now; chat is never inspected, but it is rate-limited like any other
// per-game action.
func (l *Limiter) AllowChat(userID, gameID string) bool {
	return l.allowPerGame("chat", userID, gameID, float64(l.chatRPM)/60.0, l.chatRPM)
}

// AllowCreate reports whether userID may create another game now (3 per 5
// minutes, global per user rather than per game).
func (l *Limiter) AllowCreate(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := "create:" + userID
	lim, ok := l.perUser[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.createPer5Min)/300.0), l.createPer5Min)
		l.perUser[key] = lim
	}
	return lim.Allow()
}

func (l *Limiter) allowPerGame(action, userID, gameID string, perSec float64, burst int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := action + ":" + userID + ":" + gameID
	lim, ok := l.perGame[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(perSec), burst)
		l.perGame[key] = lim
	}
	return lim.Allow()
}
