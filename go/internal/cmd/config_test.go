package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mcdev12/sonarchy/go/internal/models"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("PORT", "")
		t.Setenv("DB_DRIVER", "")
		t.Setenv("MIGRATE", "")
		t.Setenv("GAME_CONFIG", "")

		cfg, err := loadConfig()
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if cfg.Port != "8080" || cfg.DBDriver != "postgres" || cfg.Migrate {
			t.Fatalf("unexpected defaults: %+v", cfg)
		}
		if d, _ := cfg.GameConfig.DefaultDuration(models.TimerSong); d != 30 {
			t.Fatalf("song duration = %d, want 30", d)
		}
	})

	t.Run("game config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "game.yaml")
		if err := os.WriteFile(path, []byte("timers:\n  song: 45\n"), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
		t.Setenv("GAME_CONFIG", path)
		t.Setenv("DB_DRIVER", "memory")
		t.Setenv("MIGRATE", "true")

		cfg, err := loadConfig()
		if err != nil {
			t.Fatalf("loadConfig: %v", err)
		}
		if cfg.DBDriver != "memory" || !cfg.Migrate {
			t.Fatalf("unexpected env config: %+v", cfg)
		}
		if d, _ := cfg.GameConfig.DefaultDuration(models.TimerSong); d != 45 {
			t.Fatalf("song duration = %d, want 45", d)
		}
		if d, _ := cfg.GameConfig.DefaultDuration(models.TimerLeaderboard); d != 10 {
			t.Fatalf("leaderboard duration = %d, want 10", d)
		}
	})

	t.Run("missing game config", func(t *testing.T) {
		t.Setenv("GAME_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
		if _, err := loadConfig(); err == nil {
			t.Fatalf("expected error for missing file")
		}
	})
}
