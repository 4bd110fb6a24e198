package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vimsent/chessrt/internal/cache"
	"github.com/vimsent/chessrt/internal/identity"
	"github.com/vimsent/chessrt/internal/log"
	"github.com/vimsent/chessrt/internal/matchmaker"
	"github.com/vimsent/chessrt/internal/ratelimit"
	"github.com/vimsent/chessrt/internal/registry"
)

// DefaultCommandDeadline bounds how long a command waits to be accepted by
// a Session before the Gateway reports a timeout.
const DefaultCommandDeadline = 3 * time.Second

// DefaultWriteQueueSize is the per-connection outbound buffer depth; a
// full queue closes the connection.
const DefaultWriteQueueSize = 256

// Gateway is the realtime gateway: it holds references to the Registry
// and Matchmaker. Sessions hold no reference back; they only publish to
// their bus, and the Gateway subscribes.
type Gateway struct {
	registry   *registry.Registry
	matchmaker *matchmaker.Matchmaker
	identity   identity.Provider
	limits     *ratelimit.Limiter
	lobby      *cache.LobbyCache
	upgrader   websocket.Upgrader

	cmdDeadline    time.Duration
	writeQueueSize int

	mu    sync.Mutex
	conns map[string]*conn
}

// Config constructs a Gateway.
type Config struct {
	Registry        *registry.Registry
	Matchmaker      *matchmaker.Matchmaker
	Identity        identity.Provider
	MovesPerMinute  int
	CommandDeadline time.Duration
	LobbyCacheTTL   time.Duration
	WriteQueueSize  int
}

// New constructs a Gateway.
func New(cfg Config) *Gateway {
	if cfg.CommandDeadline <= 0 {
		cfg.CommandDeadline = DefaultCommandDeadline
	}
	if cfg.WriteQueueSize <= 0 {
		cfg.WriteQueueSize = DefaultWriteQueueSize
	}
	return &Gateway{
		registry:   cfg.Registry,
		matchmaker: cfg.Matchmaker,
		identity:   cfg.Identity,
		limits:     ratelimit.New(cfg.MovesPerMinute),
		lobby:      cache.NewLobbyCache(cfg.LobbyCacheTTL),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		cmdDeadline:    cfg.CommandDeadline,
		writeQueueSize: cfg.WriteQueueSize,
		conns:          make(map[string]*conn),
	}
}

// bearerToken extracts the credential from the Authorization header
// ("Bearer <token>") or, failing that, a "token" query parameter. A client
// that presents neither is authenticated from its first frame instead, in
// conn.handleFrame.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
	}
	return r.URL.Query().Get("token")
}

// ServeWS upgrades the request to a websocket connection and authenticates
// it: the identity provider returns {userId, username} or the connection is
// rejected with auth-failed.
func (gw *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	var ident identity.Identity
	authenticated := false
	if tok := bearerToken(r); tok != "" {
		id, err := gw.identity.Verify(tok)
		if err != nil {
			http.Error(w, "auth-failed", http.StatusUnauthorized)
			return
		}
		ident = id
		authenticated = true
	}

	ws, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("gateway: upgrade failed: %v", err)
		return
	}

	c := &conn{
		gw:       gw,
		ws:       ws,
		id:       uuid.NewString(),
		send:     make(chan []byte, gw.writeQueueSize),
		subs:     make(map[string]*subscription),
		identity: ident,
		authed:   authenticated,
	}

	gw.mu.Lock()
	gw.conns[c.id] = c
	gw.mu.Unlock()

	log.With("connId", c.id).Info("gateway: connection established")
	go c.writePump()
	c.readPump()

	gw.mu.Lock()
	delete(gw.conns, c.id)
	gw.mu.Unlock()
	c.closeAllSubscriptions()
	log.With("connId", c.id).Info("gateway: connection closed")
}

// ConnectionCount reports the number of live connections (diagnostics).
func (gw *Gateway) ConnectionCount() int {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return len(gw.conns)
}

func (gw *Gateway) commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), gw.cmdDeadline)
}
