package models

import (
	"time"

	"github.com/google/uuid"
)

// SongSelection is the song a player picked for the current round.
type SongSelection struct {
	SongID     string `json:"song_id"`
	SongName   string `json:"song_name"`
	SongArtist string `json:"song_artist"`
	SongURI    string `json:"song_uri,omitempty"`
}

// Player represents one row of the game_players table.
type Player struct {
	ID          uuid.UUID      `json:"id"`
	GameID      uuid.UUID      `json:"game_id"`
	DisplayName string         `json:"display_name"`
	Avatar      string         `json:"avatar,omitempty"`
	Selection   *SongSelection `json:"selection,omitempty"`
	LockedIn    bool           `json:"locked_in"`
	CreatedAt   time.Time      `json:"created_at"`
}
