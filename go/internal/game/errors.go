package game

import "errors"

var (
	ErrGameNotFound      = errors.New("game not found")
	ErrPlayerNotFound    = errors.New("player not found")
	ErrInvalidPhase      = errors.New("invalid phase")
	ErrInvalidTransition = errors.New("invalid phase transition")
	ErrUnknownTimerKind  = errors.New("unknown timer kind")
	ErrInvalidDuration   = errors.New("timer duration must be positive")
	ErrInvalidCode       = errors.New("invalid game code")
	ErrDuplicateCode     = errors.New("game code already in use")
	ErrGameComplete      = errors.New("game is complete")
	ErrInvalidRequest    = errors.New("invalid request")
)
