// Package cache implements the TTL lobby cache: a best-effort cache of the
// open-Lobby session list used by the HTTP lobby listing. It is
// invalidated on create/join and otherwise serves reads within a short TTL
// so a busy lobby page doesn't re-snapshot every Lobby session on every
// request.
package cache

import (
	"sync"
	"time"

	"github.com/vimsent/chessrt/internal/session"
)

// DefaultTTL bounds how stale a served lobby snapshot may be.
const DefaultTTL = 2 * time.Second

// LobbyCache holds the most recently computed open-Lobby snapshot.
type LobbyCache struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	games    []session.GameState
	cachedAt time.Time
	valid    bool
}

// NewLobbyCache constructs a cache with the given TTL (DefaultTTL if <= 0).
func NewLobbyCache(ttl time.Duration) *LobbyCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LobbyCache{ttl: ttl, now: time.Now}
}

// Get returns the cached snapshot and true if it is still fresh.
func (c *LobbyCache) Get() ([]session.GameState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid || c.now().Sub(c.cachedAt) > c.ttl {
		return nil, false
	}
	return c.games, true
}

// Set stores a freshly computed snapshot, replacing any prior one.
func (c *LobbyCache) Set(games []session.GameState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.games = games
	c.cachedAt = c.now()
	c.valid = true
}

// Invalidate discards the cached snapshot. A Lobby session can only leave
// the lobby by becoming Live (on Join); Completed is unreachable directly
// from Lobby and the Registry retires only Completed sessions, so callers
// invalidate on create and join only.
func (c *LobbyCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}
