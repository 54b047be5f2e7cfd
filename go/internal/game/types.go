package game

import (
	"github.com/google/uuid"
	"github.com/mcdev12/sonarchy/go/internal/models"
)

// CreateGameParams is what the repository needs to insert a games row.
type CreateGameParams struct {
	ID   uuid.UUID
	Code string
}

// AddPlayerParams is what the repository needs to insert a game_players row.
type AddPlayerParams struct {
	ID          uuid.UUID
	GameID      uuid.UUID
	DisplayName string
	Avatar      string
}

// JoinParams describes a device joining a game by its code.
type JoinParams struct {
	Code        string
	DisplayName string
	Avatar      string
	AsHost      bool
}

// SongSelectionParams replaces a player's song choice for the current round.
// A nil Selection clears it.
type SongSelectionParams struct {
	PlayerID  uuid.UUID
	Selection *models.SongSelection
	LockedIn  bool
}

// StartTimerResult reports the outcome of a conditional timer start.
// When Started is false, Timer is the pair that was already running.
type StartTimerResult struct {
	Started bool
	Timer   models.Timer
	Game    *models.Game
}
