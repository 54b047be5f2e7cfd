package models

import (
	"time"

	"github.com/google/uuid"
)

// Phase is a named stage of a round. Each phase is rendered by exactly one page.
type Phase string

const (
	PhaseLobby             Phase = "lobby"
	PhaseCategorySelection Phase = "category_selection"
	PhaseSongSelection     Phase = "song_selection"
	PhasePlayersLockedIn   Phase = "players_locked_in"
	PhasePlayback          Phase = "playback"
	PhaseRanking           Phase = "ranking"
	PhaseFinalPlacements   Phase = "final_placements"
	PhaseGameComplete      Phase = "game_complete"
)

// Phases lists every phase in play order.
var Phases = []Phase{
	PhaseLobby,
	PhaseCategorySelection,
	PhaseSongSelection,
	PhasePlayersLockedIn,
	PhasePlayback,
	PhaseRanking,
	PhaseFinalPlacements,
	PhaseGameComplete,
}

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	for _, known := range Phases {
		if p == known {
			return true
		}
	}
	return false
}

func (p Phase) String() string {
	return string(p)
}

// TimerKind identifies one of the independent countdowns stored on a game.
type TimerKind string

const (
	TimerSong              TimerKind = "song"
	TimerLeaderboard       TimerKind = "leaderboard"
	TimerCategorySelection TimerKind = "category_selection"
	TimerWaiting           TimerKind = "waiting"
	TimerNameVote          TimerKind = "name_vote"
	TimerSongSelection     TimerKind = "song_selection"
)

// TimerKinds is the canonical set of timer kinds.
var TimerKinds = []TimerKind{
	TimerSong,
	TimerLeaderboard,
	TimerCategorySelection,
	TimerWaiting,
	TimerNameVote,
	TimerSongSelection,
}

// Valid reports whether k is one of the known timer kinds.
func (k TimerKind) Valid() bool {
	for _, known := range TimerKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Timer is the stored (start, duration) pair for one timer kind.
// Both fields are nil until the timer has been started at least once.
type Timer struct {
	StartTime   *time.Time `json:"start_time,omitempty"`
	DurationSec *int       `json:"duration_sec,omitempty"`
}

// IsSet reports whether both halves of the pair are present.
func (t Timer) IsSet() bool {
	return t.StartTime != nil && t.DurationSec != nil
}

// Game represents one row of the games table.
type Game struct {
	ID           uuid.UUID           `json:"id"`
	Code         string              `json:"code"`
	HostID       *uuid.UUID          `json:"host_id,omitempty"`
	CurrentPhase Phase               `json:"current_phase"`
	CurrentRound int                 `json:"current_round"`
	Timers       map[TimerKind]Timer `json:"timers"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// Timer returns the stored pair for kind, or the zero Timer.
func (g *Game) Timer(kind TimerKind) Timer {
	if g == nil || g.Timers == nil {
		return Timer{}
	}
	return g.Timers[kind]
}
