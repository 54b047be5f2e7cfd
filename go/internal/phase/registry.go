// Package phase maps game phases to the pages that render them and holds
// the table of legal phase-to-phase transitions.
package phase

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/sonarchy/go/internal/models"
)

type route struct {
	phase models.Phase
	page  string
}

var routes = []route{
	{models.PhaseLobby, "/lobby"},
	{models.PhaseCategorySelection, "/category-selection"},
	{models.PhaseSongSelection, "/song-selection"},
	{models.PhasePlayersLockedIn, "/players-locked-in"},
	{models.PhasePlayback, "/playback"},
	{models.PhaseRanking, "/ranking"},
	{models.PhaseFinalPlacements, "/final-placements"},
	{models.PhaseGameComplete, "/game-complete"},
}

var (
	pageByPhase = make(map[models.Phase]string, len(routes))
	phaseByPage = make(map[string]models.Phase, len(routes))
)

func init() {
	for _, r := range routes {
		pageByPhase[r.phase] = r.page
		phaseByPage[r.page] = r.phase
	}
}

// transitions is the adjacency list of legal moves. game_complete has no entry.
var transitions = map[models.Phase][]models.Phase{
	models.PhaseLobby:             {models.PhaseCategorySelection},
	models.PhaseCategorySelection: {models.PhaseSongSelection},
	models.PhaseSongSelection:     {models.PhasePlayersLockedIn},
	models.PhasePlayersLockedIn:   {models.PhasePlayback},
	models.PhasePlayback:          {models.PhaseRanking},
	models.PhaseRanking:           {models.PhaseFinalPlacements},
	models.PhaseFinalPlacements:   {models.PhaseCategorySelection, models.PhaseGameComplete},
}

// PageForPhase returns the route that renders p.
func PageForPhase(p models.Phase) (string, bool) {
	page, ok := pageByPhase[p]
	return page, ok
}

// PhaseForPage returns the phase rendered by page. A trailing slash is ignored.
func PhaseForPage(page string) (models.Phase, bool) {
	if len(page) > 1 {
		page = strings.TrimSuffix(page, "/")
	}
	p, ok := phaseByPage[page]
	return p, ok
}

// IsValidTransition reports whether the adjacency table allows from -> to.
func IsValidTransition(from, to models.Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next returns the phases reachable from p. The slice is a copy.
func Next(p models.Phase) []models.Phase {
	next := transitions[p]
	out := make([]models.Phase, len(next))
	copy(out, next)
	return out
}

// IsTerminal reports whether p has no outgoing transitions.
func IsTerminal(p models.Phase) bool {
	return p.Valid() && len(transitions[p]) == 0
}

// URLFor builds the navigation URL for p: the page route with the join code,
// any phase payload and a cache-busting timestamp.
func URLFor(p models.Phase, code string, params map[string]string, now time.Time) (string, bool) {
	page, ok := PageForPhase(p)
	if !ok {
		return "", false
	}

	q := url.Values{}
	q.Set("code", code)
	for k, v := range params {
		if k == "code" || k == "t" {
			continue
		}
		q.Set(k, v)
	}
	q.Set("t", strconv.FormatInt(now.UnixMilli(), 10))

	return page + "?" + q.Encode(), true
}
