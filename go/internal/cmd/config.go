package main

import (
	"os"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sonarchy/go/internal/game"
)

type Config struct {
	Port       string
	DBDriver   string
	Migrate    bool
	GameConfig game.Config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// loadConfig reads the process environment. GAME_CONFIG names an optional
// YAML file with timer durations and the join URL.
func loadConfig() (*Config, error) {
	cfg := &Config{
		Port:       getEnv("PORT", "8080"),
		DBDriver:   getEnv("DB_DRIVER", "postgres"),
		Migrate:    getEnvAsBool("MIGRATE", false),
		GameConfig: game.DefaultConfig(),
	}

	if path := os.Getenv("GAME_CONFIG"); path != "" {
		gameCfg, err := game.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg.GameConfig = gameCfg
		log.Info().Str("path", path).Msg("loaded game config")
	}
	return cfg, nil
}
