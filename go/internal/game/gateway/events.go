package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/sonarchy/go/internal/game/events"
	"github.com/mcdev12/sonarchy/go/internal/models"
)

// GameEvent is the frame written to every websocket in a game room.
type GameEvent struct {
	ID        string          `json:"id"`        // Outbox event UUID
	GameID    string          `json:"game_id"`   // Game UUID
	Type      string          `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // When the relay published it
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// FromEnvelope converts a JetStream envelope into a websocket frame.
// Unknown event types are rejected so they are not fanned out.
func FromEnvelope(env events.Envelope) (*GameEvent, error) {
	if !events.Known(env.EventType) {
		return nil, fmt.Errorf("unknown event type: %s", env.EventType)
	}
	return &GameEvent{
		ID:        env.EventID,
		GameID:    env.GameID,
		Type:      env.EventType,
		Timestamp: env.Timestamp,
		Data:      env.Payload,
	}, nil
}

// TypeGameSnapshot frames are written by the gateway itself, never relayed
// from the outbox: once when a device connects and again on request.
const TypeGameSnapshot = "GameSnapshot"

// SnapshotData is the payload of a GameSnapshot frame. Game is the full row
// so a device can adopt it directly; State carries the derived view.
type SnapshotData struct {
	Game  models.Game        `json:"game"`
	State *GameStateResponse `json:"state"`
}

// ClientResync asks the gateway for a fresh GameSnapshot.
const ClientResync = "resync"

// ClientMessage is the only frame a device sends. Game writes go through
// the Game API.
type ClientMessage struct {
	Type string `json:"type"`
}
