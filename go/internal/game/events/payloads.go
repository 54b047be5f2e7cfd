package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/sonarchy/go/internal/models"
)

// Event types written to the game outbox. They are shared between the game,
// gateway, orchestrator and client packages.
const (
	TypeGameUpdated          = "GameUpdated"
	TypePhaseChanged         = "PhaseChanged"
	TypeTimerStarted         = "TimerStarted"
	TypePlayerJoined         = "PlayerJoined"
	TypeSongSelectionUpdated = "SongSelectionUpdated"
)

// Known reports whether eventType is one the relay understands.
func Known(eventType string) bool {
	switch eventType {
	case TypeGameUpdated, TypePhaseChanged, TypeTimerStarted, TypePlayerJoined, TypeSongSelectionUpdated:
		return true
	}
	return false
}

// Envelope is the JetStream message body published by the outbox relay.
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	GameID    string          `json:"gameId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Subject returns the JetStream subject for an event, e.g.
// game.events.<game_id>.PhaseChanged.
func Subject(prefix, gameID, eventType string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, gameID, eventType)
}

// GameUpdatedPayload carries the full new games row.
type GameUpdatedPayload struct {
	Game models.Game `json:"game"`
}

// PhaseChangedPayload is the payload for a PhaseChanged event
type PhaseChangedPayload struct {
	GameID    string       `json:"game_id"`
	Code      string       `json:"code"`
	From      models.Phase `json:"from"`
	To        models.Phase `json:"to"`
	Round     int          `json:"round"`
	ChangedAt time.Time    `json:"changed_at"`
}

// TimerStartedPayload is the payload for a TimerStarted event
type TimerStartedPayload struct {
	GameID      string           `json:"game_id"`
	Kind        models.TimerKind `json:"kind"`
	Phase       models.Phase     `json:"phase"`
	StartTime   time.Time        `json:"start_time"`
	DurationSec int              `json:"duration_sec"`
}

// PlayerJoinedPayload is the payload for a PlayerJoined event
type PlayerJoinedPayload struct {
	GameID string        `json:"game_id"`
	Player models.Player `json:"player"`
	IsHost bool          `json:"is_host"`
}

// SongSelectionUpdatedPayload is the payload for a SongSelectionUpdated event
type SongSelectionUpdatedPayload struct {
	GameID    string                `json:"game_id"`
	PlayerID  string                `json:"player_id"`
	Selection *models.SongSelection `json:"selection,omitempty"`
	LockedIn  bool                  `json:"locked_in"`
}
