package gamestate

import (
	"sort"

	"github.com/mcdev12/sonarchy/go/internal/models"
)

// PlayerData is the per-player slice of the cache: cosmetics plus the song
// picked for the current round.
type PlayerData struct {
	Name   string                `json:"name"`
	Avatar string                `json:"avatar,omitempty"`
	Color  string                `json:"color,omitempty"`
	Song   *models.SongSelection `json:"song,omitempty"`
}

// LeaderboardEntry is one row of the last computed leaderboard.
type LeaderboardEntry struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Points   int    `json:"points"`
	Rank     int    `json:"rank"`
}

// State is the cached game view. ShowNames is tri-state: nil means the host has not chosen yet.
type State struct {
	Players           map[string]PlayerData `json:"players"`
	CurrentRound      int                   `json:"currentRound"`
	ShowNames         *bool                 `json:"showNames"`
	PlayedSongs       []string              `json:"playedSongs"`
	CurrentSongNumber int                   `json:"currentSongNumber"`
	Leaderboard       []LeaderboardEntry    `json:"leaderboard"`
}

// Defaults returns a fresh state.
func Defaults() State {
	return State{
		Players:           map[string]PlayerData{},
		CurrentRound:      1,
		PlayedSongs:       []string{},
		CurrentSongNumber: 1,
		Leaderboard:       []LeaderboardEntry{},
	}
}

// HasPlayed reports whether playerID's song was already played this round.
func (s State) HasPlayed(playerID string) bool {
	for _, id := range s.PlayedSongs {
		if id == playerID {
			return true
		}
	}
	return false
}

// clone deep-copies s so callers can never mutate the cached value.
func (s State) clone() State {
	out := s
	out.Players = make(map[string]PlayerData, len(s.Players))
	for id, p := range s.Players {
		if p.Song != nil {
			song := *p.Song
			p.Song = &song
		}
		out.Players[id] = p
	}
	if s.ShowNames != nil {
		v := *s.ShowNames
		out.ShowNames = &v
	}
	out.PlayedSongs = append([]string{}, s.PlayedSongs...)
	out.Leaderboard = append([]LeaderboardEntry{}, s.Leaderboard...)
	return out
}

// normalize fills nil collections and dedupes played songs.
func (s *State) normalize() {
	if s.Players == nil {
		s.Players = map[string]PlayerData{}
	}
	if s.Leaderboard == nil {
		s.Leaderboard = []LeaderboardEntry{}
	}
	if s.CurrentRound < 1 {
		s.CurrentRound = 1
	}
	if s.CurrentSongNumber < 1 {
		s.CurrentSongNumber = 1
	}

	seen := make(map[string]bool, len(s.PlayedSongs))
	played := make([]string, 0, len(s.PlayedSongs))
	for _, id := range s.PlayedSongs {
		if seen[id] {
			continue
		}
		seen[id] = true
		played = append(played, id)
	}
	sort.Strings(played)
	s.PlayedSongs = played
}
