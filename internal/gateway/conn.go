package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vimsent/chessrt/internal/eventbus"
	"github.com/vimsent/chessrt/internal/identity"
	"github.com/vimsent/chessrt/internal/log"
	"github.com/vimsent/chessrt/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// subscription tracks one conn's live stream for one gameId, so
// unsubscribe/disconnect can stop the forwarding goroutine cleanly.
type subscription struct {
	cancel context.CancelFunc
}

// conn is one authenticated duplex client connection. It holds
// no reference to any Session directly, only to the gameId-keyed
// subscriptions it has open, each forwarding that Session's Bus into
// send.
type conn struct {
	gw       *Gateway
	ws       *websocket.Conn
	id       string
	identity identity.Identity
	authed   bool

	send chan []byte

	subsMu sync.Mutex
	subs   map[string]*subscription
}

func (c *conn) authenticated() bool { return c.authed || c.identity.UserID != "" }

func (c *conn) readPump() {
	defer c.ws.Close()
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError("", "", "invalid-arg", "malformed frame")
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliver marshals frame and enqueues it non-blocking; a full outbound
// queue marks the connection dead and closes the socket rather than
// blocking the forwarder.
func (c *conn) deliver(frame ServerFrame) {
	frame.V = ProtocolVersion
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		log.With("connId", c.id).Warn("gateway: outbound queue full, closing connection")
		c.ws.Close()
	}
}

func (c *conn) sendError(inReplyTo, gameID, code, message string) {
	c.deliver(ServerFrame{Kind: EvtError, Game: gameID, InReplyTo: inReplyTo, Payload: errorPayload{Code: code, Message: message}})
}

func (c *conn) sendAck(inReplyTo, gameID string, payload interface{}) {
	c.deliver(ServerFrame{Kind: EvtAck, Game: gameID, InReplyTo: inReplyTo, Payload: payload})
}

// handleFrame authenticates the connection on demand (the first-frame
// fallback when no bearer credential was presented at handshake), then
// dispatches by command kind.
func (c *conn) handleFrame(frame ClientFrame) {
	if !c.authenticated() {
		var auth struct {
			Token string `json:"token"`
		}
		_ = json.Unmarshal(frame.Args, &auth)
		id, err := c.gw.identity.Verify(auth.Token)
		if err != nil {
			c.sendError(frame.ID, frame.Game, "auth-failed", "authentication required")
			c.ws.Close()
			return
		}
		c.identity = id
		c.authed = true
	}

	switch frame.Cmd {
	case CmdPing:
		c.deliver(ServerFrame{Kind: EvtPong, InReplyTo: frame.ID})
	case CmdJoinGame:
		c.handleJoin(frame)
	case CmdLeaveGame:
		c.handleLeave(frame)
	case CmdMakeMove:
		c.handleMove(frame)
	case CmdResign:
		c.handleSessionCmd(frame, func(ctx context.Context, s *session.Session) (session.GameState, error) {
			return s.Resign(ctx, c.identity.UserID)
		})
	case CmdOfferDraw:
		c.handleSessionCmd(frame, func(ctx context.Context, s *session.Session) (session.GameState, error) {
			return s.OfferDraw(ctx, c.identity.UserID)
		})
	case CmdAcceptDraw:
		c.handleSessionCmd(frame, func(ctx context.Context, s *session.Session) (session.GameState, error) {
			return s.AcceptDraw(ctx, c.identity.UserID)
		})
	case CmdDeclineDraw:
		c.handleSessionCmd(frame, func(ctx context.Context, s *session.Session) (session.GameState, error) {
			return s.DeclineDraw(ctx, c.identity.UserID)
		})
	case CmdSubscribe:
		c.handleSubscribe(frame)
	case CmdUnsubscribe:
		c.handleUnsubscribe(frame)
	case CmdChat:
		c.handleChat(frame)
	default:
		c.sendError(frame.ID, frame.Game, "invalid-arg", "unknown command")
	}
}

func (c *conn) lookupSession(frame ClientFrame) (*session.Session, bool) {
	s, ok := c.gw.registry.Get(frame.Game)
	if !ok {
		c.sendError(frame.ID, frame.Game, "no-such-game", "no such game")
		return nil, false
	}
	return s, true
}

func (c *conn) handleSessionCmd(frame ClientFrame, fn func(context.Context, *session.Session) (session.GameState, error)) {
	s, ok := c.lookupSession(frame)
	if !ok {
		return
	}
	ctx, cancel := c.gw.commandContext()
	defer cancel()
	state, err := fn(ctx, s)
	if err != nil {
		code, _ := errCode(err)
		c.sendError(frame.ID, frame.Game, code, err.Error())
		return
	}
	c.sendAck(frame.ID, frame.Game, state)
}

func (c *conn) handleJoin(frame ClientFrame) {
	var args joinArgs
	_ = json.Unmarshal(frame.Args, &args)

	ctx, cancel := c.gw.commandContext()
	defer cancel()
	s, err := c.gw.matchmaker.Join(ctx, frame.Game, c.identity.UserID, c.identity.Username)
	if err != nil {
		code, _ := errCode(err)
		c.sendError(frame.ID, frame.Game, code, err.Error())
		return
	}
	c.gw.lobby.Invalidate()
	state, err := s.Snapshot(ctx)
	if err != nil {
		code, _ := errCode(err)
		c.sendError(frame.ID, frame.Game, code, err.Error())
		return
	}
	c.sendAck(frame.ID, frame.Game, state)
}

func (c *conn) handleLeave(frame ClientFrame) {
	s, ok := c.lookupSession(frame)
	if !ok {
		return
	}
	c.stopSubscription(frame.Game)
	ctx, cancel := c.gw.commandContext()
	defer cancel()
	_ = s.Unsubscribe(ctx, c.subscriberID(frame.Game), c.identity.UserID)
	c.sendAck(frame.ID, frame.Game, nil)
}

func (c *conn) handleMove(frame ClientFrame) {
	if !c.gw.limits.AllowMove(c.identity.UserID, frame.Game) {
		c.sendError(frame.ID, frame.Game, "rate-limited", "too many moves")
		return
	}
	var args moveArgs
	if err := json.Unmarshal(frame.Args, &args); err != nil || args.From == "" || args.To == "" {
		c.sendError(frame.ID, frame.Game, "invalid-arg", "from/to required")
		return
	}
	c.handleSessionCmd(frame, func(ctx context.Context, s *session.Session) (session.GameState, error) {
		return s.Move(ctx, c.identity.UserID, args.From, args.To, args.Promotion)
	})
}

// handleChat relays a chat frame to every subscriber of the game without
// touching game-rule state; chat is carried through, never inspected. It is
// rate-limited per user per game, separately from moves.
func (c *conn) handleChat(frame ClientFrame) {
	if !c.gw.limits.AllowChat(c.identity.UserID, frame.Game) {
		c.sendError(frame.ID, frame.Game, "rate-limited", "too many chat messages")
		return
	}
	var args chatArgs
	if err := json.Unmarshal(frame.Args, &args); err != nil || args.Body == "" {
		c.sendError(frame.ID, frame.Game, "invalid-arg", "body required")
		return
	}
	s, ok := c.lookupSession(frame)
	if !ok {
		return
	}
	ctx, cancel := c.gw.commandContext()
	defer cancel()
	if err := s.Chat(ctx, c.identity.UserID, args.Body); err != nil {
		code, _ := errCode(err)
		c.sendError(frame.ID, frame.Game, code, err.Error())
		return
	}
	c.sendAck(frame.ID, frame.Game, nil)
}

func (c *conn) subscriberID(gameID string) string { return c.id + ":" + gameID }

func (c *conn) handleSubscribe(frame ClientFrame) {
	s, ok := c.lookupSession(frame)
	if !ok {
		return
	}
	var args subscribeArgs
	_ = json.Unmarshal(frame.Args, &args)

	ctx, cancel := c.gw.commandContext()
	defer cancel()

	subID := c.subscriberID(frame.Game)

	var (
		state  session.GameState
		seq    uint64
		events <-chan eventbus.Envelope
		tail   []eventbus.Envelope
		err    error
	)
	if args.LastSeq != nil {
		var resumeOK bool
		tail, events, resumeOK, err = s.Resume(ctx, subID, c.identity.UserID, *args.LastSeq)
		if err == nil && !resumeOK {
			// Fallen out of the tail: fall back to snapshot-then-stream.
			state, seq, events, err = s.Subscribe(ctx, subID, args.Role, c.identity.UserID)
		} else if err == nil {
			state, err = s.Snapshot(ctx)
			seq = *args.LastSeq
		}
	} else {
		state, seq, events, err = s.Subscribe(ctx, subID, args.Role, c.identity.UserID)
	}
	if err != nil {
		code, _ := errCode(err)
		c.sendError(frame.ID, frame.Game, code, err.Error())
		return
	}

	// The ack (snapshot) and tail replay must hit the send queue before the
	// forwarding goroutine starts draining events, or a live event published
	// during this window could reach the socket ahead of the snapshot it
	// postdates. The events channel is buffered, so nothing is lost by
	// deferring the drain.
	c.deliver(ServerFrame{Seq: &seq, Kind: EvtAck, Game: frame.Game, InReplyTo: frame.ID, Payload: state})
	for _, env := range tail {
		c.forwardEnvelope(frame.Game, env)
	}
	c.startForwarding(frame.Game, events)
}

func (c *conn) handleUnsubscribe(frame ClientFrame) {
	s, ok := c.lookupSession(frame)
	if !ok {
		return
	}
	c.stopSubscription(frame.Game)
	ctx, cancel := c.gw.commandContext()
	defer cancel()
	_ = s.Unsubscribe(ctx, c.subscriberID(frame.Game), c.identity.UserID)
	c.sendAck(frame.ID, frame.Game, nil)
}

// startForwarding replaces any existing forwarding goroutine for gameID and
// begins streaming events onto c.send in emission order.
func (c *conn) startForwarding(gameID string, events <-chan eventbus.Envelope) {
	c.stopSubscription(gameID)

	ctx, cancel := context.WithCancel(context.Background())
	c.subsMu.Lock()
	c.subs[gameID] = &subscription{cancel: cancel}
	c.subsMu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-events:
				if !ok {
					return
				}
				c.forwardEnvelope(gameID, env)
			}
		}
	}()
}

func (c *conn) forwardEnvelope(gameID string, env eventbus.Envelope) {
	seq := env.Seq
	c.deliver(ServerFrame{Seq: &seq, Kind: env.Kind, Game: gameID, Payload: env.Payload})
}

func (c *conn) stopSubscription(gameID string) {
	c.subsMu.Lock()
	sub, ok := c.subs[gameID]
	if ok {
		delete(c.subs, gameID)
	}
	c.subsMu.Unlock()
	if ok {
		sub.cancel()
	}
}

func (c *conn) closeAllSubscriptions() {
	c.subsMu.Lock()
	subs := c.subs
	c.subs = make(map[string]*subscription)
	c.subsMu.Unlock()
	for _, sub := range subs {
		sub.cancel()
	}
}
