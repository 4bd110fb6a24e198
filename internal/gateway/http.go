package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/vimsent/chessrt/internal/chess"
	"github.com/vimsent/chessrt/internal/clock"
	"github.com/vimsent/chessrt/internal/registry"
	"github.com/vimsent/chessrt/internal/session"
)

// Routes mounts the HTTP shell onto mux as an alternate, non-realtime
// path: game creation/join/move/resign, a point-in-time snapshot,
// paginated move history, and the open-lobby listing.
func (gw *Gateway) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", gw.ServeWS)
	mux.HandleFunc("/games", gw.handleGames)
	mux.HandleFunc("/games/lobby", gw.handleLobby)
	mux.HandleFunc("/games/", gw.handleGameSubpaths)
}

func (gw *Gateway) authenticate(r *http.Request) (string, string, bool) {
	tok := bearerToken(r)
	if tok == "" {
		return "", "", false
	}
	id, err := gw.identity.Verify(tok)
	if err != nil {
		return "", "", false
	}
	return id.UserID, id.Username, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	code, status := errCode(err)
	writeJSON(w, status, errorPayload{Code: code, Message: err.Error()})
}

// handleGames serves POST /games (create).
func (gw *Gateway) handleGames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, username, ok := gw.authenticate(r)
	if !ok {
		writeErr(w, ErrNotAPlayer)
		return
	}
	if !gw.limits.AllowCreate(userID) {
		writeErr(w, ErrRateLimited)
		return
	}

	var body createArgs
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErr(w, ErrInvalidArg)
		return
	}

	spec := clock.Spec{
		InitialMs:   body.InitialMs,
		IncrementMs: body.IncrementMs,
		DelayMs:     body.DelayMs,
		Discipline:  parseDiscipline(body.Discipline),
	}
	colorPref, err := parseColorPref(body.Color)
	if err != nil {
		writeErr(w, ErrInvalidArg)
		return
	}

	ctx, cancel := gw.commandContext()
	defer cancel()
	s, err := gw.matchmaker.Create(ctx, userID, username, session.GameMode(body.Mode), spec, colorPref)
	if err != nil {
		writeErr(w, err)
		return
	}
	gw.lobby.Invalidate()
	state, err := s.Snapshot(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

// handleLobby serves GET /games/lobby?limit=&offset=, reading through the
// lobby cache rather than re-snapshotting every Lobby session on each
// request.
func (gw *Gateway) handleLobby(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit, offset := paginationParams(r)

	states, ok := gw.lobby.Get()
	if !ok {
		all := gw.registry.ListLobby()
		ctx, cancel := gw.commandContext()
		defer cancel()
		states = make([]session.GameState, 0, len(all))
		for _, s := range all {
			state, err := s.Snapshot(ctx)
			if err != nil {
				continue
			}
			states = append(states, state)
		}
		gw.lobby.Set(states)
	}

	out := make([]session.GameState, 0, limit)
	for i := offset; i < len(states) && len(out) < limit; i++ {
		out = append(out, states[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGameSubpaths dispatches GET/POST /games/{id}[/join|/move|/resign|/history].
func (gw *Gateway) handleGameSubpaths(w http.ResponseWriter, r *http.Request) {
	gameID, action := splitGamePath(r.URL.Path)
	if gameID == "" {
		http.NotFound(w, r)
		return
	}
	s, ok := gw.registry.Get(gameID)
	if !ok {
		writeErr(w, registry.ErrNoSuchGame)
		return
	}

	switch action {
	case "":
		gw.handleGameSnapshot(w, r, s)
	case "join":
		gw.handleGameJoin(w, r, gameID)
	case "move":
		gw.handleGameMove(w, r, s, gameID)
	case "resign":
		gw.handleGameResign(w, r, s)
	case "history":
		gw.handleGameHistory(w, r, s)
	default:
		http.NotFound(w, r)
	}
}

func (gw *Gateway) handleGameSnapshot(w http.ResponseWriter, r *http.Request, s *session.Session) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := gw.commandContext()
	defer cancel()
	state, err := s.Snapshot(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (gw *Gateway) handleGameJoin(w http.ResponseWriter, r *http.Request, gameID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, username, ok := gw.authenticate(r)
	if !ok {
		writeErr(w, ErrNotAPlayer)
		return
	}
	ctx, cancel := gw.commandContext()
	defer cancel()
	s, err := gw.matchmaker.Join(ctx, gameID, userID, username)
	if err != nil {
		writeErr(w, err)
		return
	}
	gw.lobby.Invalidate()
	state, err := s.Snapshot(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (gw *Gateway) handleGameMove(w http.ResponseWriter, r *http.Request, s *session.Session, gameID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, _, ok := gw.authenticate(r)
	if !ok {
		writeErr(w, ErrNotAPlayer)
		return
	}
	if !gw.limits.AllowMove(userID, gameID) {
		writeErr(w, ErrRateLimited)
		return
	}
	var args moveArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil || args.From == "" || args.To == "" {
		writeErr(w, ErrInvalidArg)
		return
	}
	ctx, cancel := gw.commandContext()
	defer cancel()
	state, err := s.Move(ctx, userID, args.From, args.To, args.Promotion)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (gw *Gateway) handleGameResign(w http.ResponseWriter, r *http.Request, s *session.Session) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, _, ok := gw.authenticate(r)
	if !ok {
		writeErr(w, ErrNotAPlayer)
		return
	}
	ctx, cancel := gw.commandContext()
	defer cancel()
	state, err := s.Resign(ctx, userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (gw *Gateway) handleGameHistory(w http.ResponseWriter, r *http.Request, s *session.Session) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit, offset := paginationParams(r)
	ctx, cancel := gw.commandContext()
	defer cancel()
	state, err := s.Snapshot(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	moves := state.MoveHistory
	if offset >= len(moves) {
		writeJSON(w, http.StatusOK, []session.MoveRecord{})
		return
	}
	end := offset + limit
	if end > len(moves) {
		end = len(moves)
	}
	writeJSON(w, http.StatusOK, moves[offset:end])
}

func paginationParams(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// splitGamePath parses "/games/{id}" or "/games/{id}/{action}".
func splitGamePath(path string) (gameID, action string) {
	rest := path
	const prefix = "/games/"
	if len(rest) < len(prefix) || rest[:len(prefix)] != prefix {
		return "", ""
	}
	rest = rest[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:]
		}
	}
	return rest, ""
}

func parseDiscipline(s string) clock.Discipline {
	switch s {
	case "bronstein":
		return clock.Bronstein
	case "simple":
		return clock.Simple
	default:
		return clock.FischerOnly
	}
}

func parseColorPref(s string) (*chess.Color, error) {
	switch s {
	case "":
		return nil, nil
	case "white":
		c := chess.White
		return &c, nil
	case "black":
		c := chess.Black
		return &c, nil
	default:
		return nil, ErrInvalidArg
	}
}
