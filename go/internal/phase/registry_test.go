package phase

import (
	"net/url"
	"testing"
	"time"

	"github.com/mcdev12/sonarchy/go/internal/models"
)

func TestPageAndPhaseAreInverses(t *testing.T) {
	for _, p := range models.Phases {
		page, ok := PageForPhase(p)
		if !ok {
			t.Fatalf("PageForPhase(%s) not found", p)
		}
		got, ok := PhaseForPage(page)
		if !ok {
			t.Fatalf("PhaseForPage(%s) not found", page)
		}
		if got != p {
			t.Fatalf("PhaseForPage(PageForPhase(%s)) = %s", p, got)
		}
	}
}

func TestUnknownLookups(t *testing.T) {
	if _, ok := PageForPhase(models.Phase("intermission")); ok {
		t.Fatalf("expected unknown phase to be not found")
	}
	if _, ok := PhaseForPage("/nowhere"); ok {
		t.Fatalf("expected unknown page to be not found")
	}
	if p, ok := PhaseForPage("/ranking/"); !ok || p != models.PhaseRanking {
		t.Fatalf("PhaseForPage with trailing slash = %s, %v", p, ok)
	}
}

func TestIsValidTransition(t *testing.T) {
	valid := map[[2]models.Phase]bool{
		{models.PhaseLobby, models.PhaseCategorySelection}:           true,
		{models.PhaseCategorySelection, models.PhaseSongSelection}:   true,
		{models.PhaseSongSelection, models.PhasePlayersLockedIn}:     true,
		{models.PhasePlayersLockedIn, models.PhasePlayback}:          true,
		{models.PhasePlayback, models.PhaseRanking}:                  true,
		{models.PhaseRanking, models.PhaseFinalPlacements}:           true,
		{models.PhaseFinalPlacements, models.PhaseCategorySelection}: true,
		{models.PhaseFinalPlacements, models.PhaseGameComplete}:      true,
	}

	for _, from := range models.Phases {
		for _, to := range models.Phases {
			want := valid[[2]models.Phase{from, to}]
			if got := IsValidTransition(from, to); got != want {
				t.Errorf("IsValidTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestGameCompleteIsTerminal(t *testing.T) {
	if !IsTerminal(models.PhaseGameComplete) {
		t.Fatalf("game_complete should be terminal")
	}
	if len(Next(models.PhaseGameComplete)) != 0 {
		t.Fatalf("game_complete should have no outgoing transitions")
	}
	for _, p := range models.Phases {
		if IsValidTransition(models.PhaseGameComplete, p) {
			t.Fatalf("game_complete -> %s should be invalid", p)
		}
	}
	if IsTerminal(models.Phase("bogus")) {
		t.Fatalf("unknown phase should not be terminal")
	}
}

func TestURLFor(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	raw, ok := URLFor(models.PhaseSongSelection, "ABC123", map[string]string{"category": "90s", "t": "x"}, now)
	if !ok {
		t.Fatalf("URLFor returned not found")
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Path != "/song-selection" {
		t.Fatalf("path = %s, want /song-selection", u.Path)
	}
	q := u.Query()
	if q.Get("code") != "ABC123" || q.Get("category") != "90s" || q.Get("t") != "1700000000123" {
		t.Fatalf("unexpected query: %v", q)
	}

	if _, ok := URLFor(models.Phase("bogus"), "ABC123", nil, now); ok {
		t.Fatalf("expected unknown phase to fail")
	}
}
