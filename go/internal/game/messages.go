package game

import (
	"time"

	"github.com/mcdev12/sonarchy/go/internal/models"
)

// Wire messages for GameService. They travel as JSON through rpc.JSONCodec.

type CreateGameRequest struct{}

type CreateGameResponse struct {
	Game *models.Game `json:"game"`
}

// GetGameRequest looks a game up by id, or by code when id is empty.
type GetGameRequest struct {
	GameID string `json:"game_id,omitempty"`
	Code   string `json:"code,omitempty"`
}

type GetGameResponse struct {
	Game       *models.Game `json:"game"`
	ServerTime time.Time    `json:"server_time"`
}

type GetCurrentPhaseRequest struct {
	Code string `json:"code"`
}

type GetCurrentPhaseResponse struct {
	Phase models.Phase `json:"phase"`
	Route string       `json:"route"`
}

type SetGamePhaseRequest struct {
	GameID string       `json:"game_id"`
	Phase  models.Phase `json:"phase"`
}

type SetGamePhaseResponse struct{}

type AdvancePhaseRequest struct {
	GameID string       `json:"game_id"`
	From   models.Phase `json:"from"`
	To     models.Phase `json:"to"`
}

type AdvancePhaseResponse struct {
	Advanced bool `json:"advanced"`
}

type StartTimerRequest struct {
	GameID      string           `json:"game_id"`
	Kind        models.TimerKind `json:"kind"`
	DurationSec int              `json:"duration_sec,omitempty"`
}

// TimerResponse carries the stored pair plus the remaining seconds as seen
// by the server clock when the response was built.
type TimerResponse struct {
	Started      bool             `json:"started"`
	Kind         models.TimerKind `json:"kind"`
	Timer        models.Timer     `json:"timer"`
	RemainingSec int              `json:"remaining_sec"`
	ServerTime   time.Time        `json:"server_time"`
}

type GetTimerRequest struct {
	GameID string           `json:"game_id"`
	Kind   models.TimerKind `json:"kind"`
}

type JoinGameRequest struct {
	Code        string `json:"code"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
	AsHost      bool   `json:"as_host,omitempty"`
}

type JoinGameResponse struct {
	Player *models.Player `json:"player"`
	Game   *models.Game   `json:"game"`
}

type ListPlayersRequest struct {
	GameID string `json:"game_id"`
}

type ListPlayersResponse struct {
	Players []models.Player `json:"players"`
}

type UpdateSongSelectionRequest struct {
	PlayerID  string                `json:"player_id"`
	Selection *models.SongSelection `json:"selection,omitempty"`
	LockedIn  bool                  `json:"locked_in"`
}

type UpdateSongSelectionResponse struct {
	Player *models.Player `json:"player"`
}
