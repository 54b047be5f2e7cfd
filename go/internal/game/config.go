package game

import (
	"fmt"
	"os"

	"github.com/mcdev12/sonarchy/go/internal/models"
	"gopkg.in/yaml.v3"
)

// Config holds game tuning loaded from YAML.
type Config struct {
	// Timers maps a timer kind to its default duration in seconds. It is
	// used when a StartTimer call does not name a duration.
	Timers map[models.TimerKind]int `yaml:"timers"`
	// JoinBaseURL is the page a QR code sends new players to.
	JoinBaseURL string `yaml:"join_base_url"`
}

// DefaultConfig returns the durations the game ships with.
func DefaultConfig() Config {
	return Config{
		Timers: map[models.TimerKind]int{
			models.TimerSong:              30,
			models.TimerLeaderboard:       10,
			models.TimerCategorySelection: 20,
			models.TimerWaiting:           5,
			models.TimerNameVote:          15,
			models.TimerSongSelection:     60,
		},
		JoinBaseURL: "http://localhost:3000/join",
	}
}

// LoadConfig reads path over the defaults. Unknown timer kinds and
// non-positive durations are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	for kind, secs := range file.Timers {
		if !kind.Valid() {
			return cfg, fmt.Errorf("%w: %q", ErrUnknownTimerKind, kind)
		}
		if secs <= 0 {
			return cfg, fmt.Errorf("timer %s: %w", kind, ErrInvalidDuration)
		}
		cfg.Timers[kind] = secs
	}
	if file.JoinBaseURL != "" {
		cfg.JoinBaseURL = file.JoinBaseURL
	}
	return cfg, nil
}

// DefaultDuration returns the configured duration for kind.
func (c Config) DefaultDuration(kind models.TimerKind) (int, bool) {
	secs, ok := c.Timers[kind]
	return secs, ok && secs > 0
}
