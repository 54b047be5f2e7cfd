package game

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mcdev12/sonarchy/go/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "game.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
timers:
  song: 45
  name_vote: 8
join_base_url: https://play.example.com/join
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	tests := []struct {
		kind models.TimerKind
		want int
	}{
		{models.TimerSong, 45},
		{models.TimerNameVote, 8},
		{models.TimerLeaderboard, 10},
		{models.TimerSongSelection, 60},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, ok := cfg.DefaultDuration(tt.kind)
			if !ok || got != tt.want {
				t.Fatalf("DefaultDuration(%s) = %d, %v; want %d", tt.kind, got, ok, tt.want)
			}
		})
	}
	if cfg.JoinBaseURL != "https://play.example.com/join" {
		t.Fatalf("JoinBaseURL = %q", cfg.JoinBaseURL)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"unknown kind", "timers:\n  intermission: 5\n", ErrUnknownTimerKind},
		{"zero duration", "timers:\n  song: 0\n", ErrInvalidDuration},
		{"negative duration", "timers:\n  waiting: -3\n", ErrInvalidDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDefaultConfigCoversEveryKind(t *testing.T) {
	cfg := DefaultConfig()
	for _, kind := range models.TimerKinds {
		if _, ok := cfg.DefaultDuration(kind); !ok {
			t.Fatalf("no default duration for %s", kind)
		}
	}
}
