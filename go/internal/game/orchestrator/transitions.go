package orchestrator

import "github.com/mcdev12/sonarchy/go/internal/models"

// Expiry is the phase move made when a timer kind runs out while the game
// is still in From.
type Expiry struct {
	Kind models.TimerKind
	From models.Phase
	To   models.Phase
}

// waiting and name_vote are driven by devices only.
var expiries = map[models.TimerKind]Expiry{
	models.TimerCategorySelection: {
		Kind: models.TimerCategorySelection,
		From: models.PhaseCategorySelection,
		To:   models.PhaseSongSelection,
	},
	models.TimerSongSelection: {
		Kind: models.TimerSongSelection,
		From: models.PhaseSongSelection,
		To:   models.PhasePlayersLockedIn,
	},
	models.TimerSong: {
		Kind: models.TimerSong,
		From: models.PhasePlayback,
		To:   models.PhaseRanking,
	},
	models.TimerLeaderboard: {
		Kind: models.TimerLeaderboard,
		From: models.PhaseRanking,
		To:   models.PhaseFinalPlacements,
	},
}

// ExpiryFor returns the move for kind, if the server drives it.
func ExpiryFor(kind models.TimerKind) (Expiry, bool) {
	e, ok := expiries[kind]
	return e, ok
}
