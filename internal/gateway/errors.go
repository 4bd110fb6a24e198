package gateway

import (
	"errors"
	"net/http"

	"github.com/vimsent/chessrt/internal/chess"
	"github.com/vimsent/chessrt/internal/identity"
	"github.com/vimsent/chessrt/internal/registry"
	"github.com/vimsent/chessrt/internal/session"
)

// ErrRateLimited is raised by the Gateway's own token-bucket check, never
// by a Session.
var ErrRateLimited = errors.New("rate-limited")

// ErrNotAPlayer, ErrInvalidArg are Gateway-local authorization/validation
// errors raised before a command ever reaches a Session.
var (
	ErrNotAPlayer = errors.New("not-a-player")
	ErrInvalidArg = errors.New("invalid-arg")
)

// errCode maps any error this module can produce to its wire error code
// and HTTP status.
func errCode(err error) (code string, status int) {
	switch {
	case err == nil:
		return "", http.StatusOK
	case errors.Is(err, identity.ErrAuthFailed):
		return "auth-failed", http.StatusUnauthorized
	case errors.Is(err, ErrNotAPlayer), errors.Is(err, session.ErrNotAPlayer):
		return "not-a-player", http.StatusForbidden
	case errors.Is(err, registry.ErrNoSuchGame):
		return "no-such-game", http.StatusNotFound
	case errors.Is(err, registry.ErrTooManyActiveGames):
		return "too-many-active-games", http.StatusConflict
	case errors.Is(err, registry.ErrPersistenceDivergent):
		return "persistence-divergent", http.StatusServiceUnavailable
	case errors.Is(err, session.ErrSeatTaken):
		return "already-seated", http.StatusConflict
	case errors.Is(err, session.ErrWrongFSMState):
		return "game-not-joinable", http.StatusConflict
	case errors.Is(err, chess.ErrIllegalMove):
		return "illegal-move", http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrNotYourTurn):
		return "not-your-turn", http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrNoDrawOffer):
		return "invalid-arg", http.StatusBadRequest
	case errors.Is(err, session.ErrCommandTimeout):
		return "timeout", http.StatusGatewayTimeout
	case errors.Is(err, session.ErrSessionShutDown):
		return "no-such-game", http.StatusNotFound
	case errors.Is(err, session.ErrTimeExpired):
		return "illegal-move", http.StatusUnprocessableEntity
	case errors.Is(err, ErrRateLimited):
		return "rate-limited", http.StatusTooManyRequests
	case errors.Is(err, ErrInvalidArg), errors.Is(err, session.ErrInvalidTimeControl):
		return "invalid-arg", http.StatusBadRequest
	default:
		return "internal", http.StatusInternalServerError
	}
}
