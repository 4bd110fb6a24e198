package session

import "errors"

// Client errors: non-fatal, never mutate authoritative state, and carry no
// event emission.
var (
	ErrWrongFSMState   = errors.New("wrong-fsm-state")
	ErrNotYourTurn     = errors.New("not-your-turn")
	ErrNotAPlayer      = errors.New("not-a-player")
	ErrSeatTaken       = errors.New("seat-taken")
	ErrNoDrawOffer     = errors.New("no-draw-offer")
	ErrCommandTimeout  = errors.New("command-timeout")
	ErrSessionShutDown = errors.New("session-shut-down")
	ErrTimeExpired     = errors.New("time-expired")
)
